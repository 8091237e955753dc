// Package resolution defines the boundary to the entity resolution engine.
//
// The engine is a black box that assigns internal entity ids to records and
// may reassign them on every ingestion. Engine implementations speak a loosely
// typed JSON protocol (RawEngine); Typed parses every payload into strict
// types so nothing past this package handles untyped data.
package resolution

import (
	"context"
	"errors"

	"github.com/roach88/stableid/internal/model"
)

// ErrNotFound is returned when the engine reports that an entity id does not
// exist. Callers match it with errors.Is.
var ErrNotFound = errors.New("entity not found")

// InterestingEntity is an entity the engine considers related to an ingested
// record without resolving it together.
type InterestingEntity struct {
	EntityID model.EntityID `json:"entity_id"`
	Degrees  int            `json:"degrees"`
}

// AddResult is the engine's report for one ingestion.
type AddResult struct {
	RecordID          model.RecordID      `json:"record_id"`
	AffectedEntityIDs []model.EntityID    `json:"affected_entity_ids"`
	Interesting       []InterestingEntity `json:"interesting"`
}

// Entity is the engine's current view of one entity.
type Entity struct {
	EntityID model.EntityID   `json:"entity_id"`
	Name     string           `json:"name"`
	Records  []model.RecordID `json:"records"`
}

// Engine is the typed resolution engine contract used by the core.
type Engine interface {
	// AddRecord ingests or replaces a record and reports the entity ids whose
	// membership may have changed.
	AddRecord(ctx context.Context, id model.RecordID, doc model.FeatureDocument) (AddResult, error)

	// DeleteRecord removes a record and reports the affected entity ids.
	DeleteRecord(ctx context.Context, id model.RecordID) (AddResult, error)

	// GetEntity returns current membership. Returns an error wrapping
	// ErrNotFound when the id no longer exists.
	GetEntity(ctx context.Context, id model.EntityID) (Entity, error)
}

// RawEngine is the JSON contract spoken by engine implementations.
type RawEngine interface {
	AddRecordJSON(ctx context.Context, dataSource, recordKey string, doc []byte) ([]byte, error)
	DeleteRecordJSON(ctx context.Context, dataSource, recordKey string) ([]byte, error)
	GetEntityJSON(ctx context.Context, id model.EntityID) ([]byte, error)
}
