package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EntityID identifies an entity inside the resolution engine.
// Not stable across merges, splits or deletes.
type EntityID int64

// StableID is an externally durable identifier owned by this system.
// A StableID is either a root (canonical) or an alias of another StableID.
type StableID string

// RecordID identifies a source record by data source and record key.
type RecordID struct {
	DataSource string `json:"data_source" yaml:"data_source"`
	RecordKey  string `json:"record_id" yaml:"record_id"`
}

// NewRecordID builds a normalized RecordID.
// Both parts are NFC normalized and trimmed; the data source code is upper-cased
// because the engine treats data source codes case-insensitively.
func NewRecordID(dataSource, recordKey string) RecordID {
	return RecordID{
		DataSource: strings.ToUpper(strings.TrimSpace(norm.NFC.String(dataSource))),
		RecordKey:  strings.TrimSpace(norm.NFC.String(recordKey)),
	}
}

// String renders the record as DATA_SOURCE/key.
func (r RecordID) String() string {
	return r.DataSource + "/" + r.RecordKey
}

// IsZero reports whether either part of the id is empty.
func (r RecordID) IsZero() bool {
	return r.DataSource == "" || r.RecordKey == ""
}

// CompareRecordIDs orders records by data source, then record key.
func CompareRecordIDs(a, b RecordID) int {
	if c := strings.Compare(a.DataSource, b.DataSource); c != 0 {
		return c
	}
	return strings.Compare(a.RecordKey, b.RecordKey)
}

// ParseRecordID parses the DATA_SOURCE/key form produced by String.
func ParseRecordID(s string) (RecordID, error) {
	ds, key, ok := strings.Cut(s, "/")
	if !ok {
		return RecordID{}, fmt.Errorf("parse record id %q: expected DATA_SOURCE/key", s)
	}
	id := NewRecordID(ds, key)
	if id.IsZero() {
		return RecordID{}, fmt.Errorf("parse record id %q: empty data source or key", s)
	}
	return id, nil
}

// FeatureDocument is the loosely typed feature payload handed to the engine.
type FeatureDocument map[string]any

// Record is a source record submitted for resolution.
type Record struct {
	ID       RecordID        `json:"id" yaml:"id"`
	Features FeatureDocument `json:"features" yaml:"features"`
}

// Snapshot is the last known state of an internal entity id.
// Known is false when no row exists for the id; such a snapshot reads as
// not existing with no records.
type Snapshot struct {
	EntityID EntityID   `json:"entity_id"`
	Known    bool       `json:"known"`
	Exists   bool       `json:"exists"`
	Records  []RecordID `json:"records"`
}

// EntityChangeSummary describes how one entity id changed in a single event.
type EntityChangeSummary struct {
	EntityID   EntityID   `json:"entity_id" yaml:"entity_id"`
	PreExists  bool       `json:"pre_exists" yaml:"pre_exists"`
	PostExists bool       `json:"post_exists" yaml:"post_exists"`
	PreRecords []RecordID `json:"pre_records" yaml:"pre_records"`
	// PostRecords are the records the engine reports for the id now.
	PostRecords []RecordID `json:"post_records" yaml:"post_records"`
	// NextEntities are the ids that now own records this id used to own.
	// 0 -> death, 1 -> merge, >1 -> split for an id that disappeared.
	NextEntities []EntityID `json:"next_entities" yaml:"next_entities"`
	// DeletedRecords used to belong to this id and are owned by nobody now.
	DeletedRecords []RecordID `json:"deleted_records" yaml:"deleted_records"`
	Status         Status     `json:"status" yaml:"status"`
	// Contributors are the old ids whose records now live in this id.
	// Audit output only.
	Contributors []EntityID `json:"contributors" yaml:"contributors"`
}

// SortRecordIDs sorts records in place and drops duplicates.
// Returns a non-nil slice.
func SortRecordIDs(ids []RecordID) []RecordID {
	if len(ids) == 0 {
		return []RecordID{}
	}
	slices.SortFunc(ids, CompareRecordIDs)
	return slices.Compact(ids)
}

// SortEntityIDs sorts ids ascending in place and drops duplicates.
// Returns a non-nil slice.
func SortEntityIDs(ids []EntityID) []EntityID {
	if len(ids) == 0 {
		return []EntityID{}
	}
	slices.SortFunc(ids, cmp.Compare[EntityID])
	return slices.Compact(ids)
}

// RecordSet is a set of record ids.
type RecordSet map[RecordID]struct{}

// NewRecordSet builds a set from ids.
func NewRecordSet(ids ...RecordID) RecordSet {
	s := make(RecordSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s RecordSet) Has(id RecordID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in record order.
func (s RecordSet) Sorted() []RecordID {
	out := make([]RecordID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return SortRecordIDs(out)
}

// EntitySet is a set of entity ids.
type EntitySet map[EntityID]struct{}

// Add inserts an id.
func (s EntitySet) Add(id EntityID) {
	s[id] = struct{}{}
}

// Sorted returns the members ascending.
func (s EntitySet) Sorted() []EntityID {
	out := make([]EntityID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return SortEntityIDs(out)
}

// EventKind names an ingestion event.
type EventKind string

const (
	EventAddRecord    EventKind = "ADD_RECORD"
	EventDeleteRecord EventKind = "DELETE_RECORD"
)

// EventRecord is one entry of the change log.
type EventRecord struct {
	Seq         int64                 `json:"seq"`
	Kind        EventKind             `json:"kind"`
	Record      RecordID              `json:"record"`
	FeatureHash string                `json:"feature_hash,omitempty"`
	AffectedIDs []EntityID            `json:"affected_ids"`
	Changes     []EntityChangeSummary `json:"changes"`
	StableIDs   map[EntityID]StableID `json:"stable_ids"`
}

// Normalized returns a copy with nil collections replaced by empty ones so the
// event encodes the same way no matter how it was built.
func (e EventRecord) Normalized() EventRecord {
	if e.AffectedIDs == nil {
		e.AffectedIDs = []EntityID{}
	}
	if e.Changes == nil {
		e.Changes = []EntityChangeSummary{}
	}
	if e.StableIDs == nil {
		e.StableIDs = map[EntityID]StableID{}
	}
	return e
}
