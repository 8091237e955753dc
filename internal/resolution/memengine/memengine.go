// Package memengine is a deterministic in-process resolution engine.
//
// Records resolve together when they share a normalized value for any match
// key (transitively). After every change the clusters are recomputed; each
// cluster keeps the lowest entity id its records held before, and clusters
// with no unclaimed prior id get a fresh one. Entity ids are never reused.
//
// The engine speaks the same JSON payloads as a production engine so it plugs
// in behind resolution.NewTyped. It is a stand-in for tests, demos and the
// CLI; it does not score or weigh evidence.
package memengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
)

// DefaultMatchKeys are the feature keys that resolve records together.
var DefaultMatchKeys = []string{
	"PHONE_NUMBER",
	"EMAIL_ADDRESS",
	"DRIVERS_LICENSE_NUMBER",
	"SSN_NUMBER",
	"PASSPORT_NUMBER",
}

// DefaultRelateKeys are the feature keys that mark entities as related
// without resolving them.
var DefaultRelateKeys = []string{"PRIMARY_NAME_LAST", "NAME_LAST"}

// Options configures an Engine.
type Options struct {
	MatchKeys  []string
	RelateKeys []string
	// StatePath, when set, is a JSON file the engine loads on start and
	// rewrites after every change.
	StatePath string
}

// Engine is an in-memory exact-key resolver. Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	matchKeys  []string
	relateKeys []string
	statePath  string

	records map[model.RecordID]model.FeatureDocument
	owner   map[model.RecordID]model.EntityID
	lastID  model.EntityID
}

var _ resolution.RawEngine = (*Engine)(nil)

// New creates an engine, loading persisted state if StatePath exists.
func New(opts Options) (*Engine, error) {
	e := &Engine{
		matchKeys:  opts.MatchKeys,
		relateKeys: opts.RelateKeys,
		statePath:  opts.StatePath,
		records:    make(map[model.RecordID]model.FeatureDocument),
		owner:      make(map[model.RecordID]model.EntityID),
	}
	if len(e.matchKeys) == 0 {
		e.matchKeys = DefaultMatchKeys
	}
	if e.relateKeys == nil {
		e.relateKeys = DefaultRelateKeys
	}
	if e.statePath != "" {
		if err := e.load(); err != nil {
			return nil, fmt.Errorf("load engine state: %w", err)
		}
	}
	return e, nil
}

// AddRecordJSON ingests or replaces a record.
func (e *Engine) AddRecordJSON(ctx context.Context, dataSource, recordKey string, doc []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := model.NewRecordID(dataSource, recordKey)
	if id.IsZero() {
		return nil, fmt.Errorf("add record: data source and record id are required")
	}
	features, err := decodeFeatures(doc)
	if err != nil {
		return nil, fmt.Errorf("add record %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	records := copyRecords(e.records)
	records[id] = features
	affected, err := e.apply(records, id)
	if err != nil {
		return nil, fmt.Errorf("add record %s: %w", id, err)
	}
	return marshalWithInfo(id, affected, e.interesting(id))
}

// DeleteRecordJSON removes a record. Deleting an unknown record reports no
// affected entities.
func (e *Engine) DeleteRecordJSON(ctx context.Context, dataSource, recordKey string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := model.NewRecordID(dataSource, recordKey)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[id]; !ok {
		return marshalWithInfo(id, []model.EntityID{}, nil)
	}
	records := copyRecords(e.records)
	delete(records, id)
	affected, err := e.apply(records, id)
	if err != nil {
		return nil, fmt.Errorf("delete record %s: %w", id, err)
	}
	return marshalWithInfo(id, affected, nil)
}

// GetEntityJSON returns the current membership of an entity id.
func (e *Engine) GetEntityJSON(ctx context.Context, id model.EntityID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	members := e.membersOf(id)
	if len(members) == 0 {
		return nil, fmt.Errorf("entity %d: %w", id, resolution.ErrNotFound)
	}
	out := entityOut{ResolvedEntity: resolvedOut{
		EntityID:   int64(id),
		EntityName: entityName(e.records[members[0]]),
		Records:    make([]recordOut, 0, len(members)),
	}}
	for _, r := range members {
		out.ResolvedEntity.Records = append(out.ResolvedEntity.Records, recordOut{
			DataSource: r.DataSource,
			RecordID:   r.RecordKey,
		})
	}
	return json.Marshal(out)
}

// apply reclusters records, persists the result and swaps it in. It returns
// the entity ids whose membership changed plus the owner of subject before
// and after.
func (e *Engine) apply(records map[model.RecordID]model.FeatureDocument, subject model.RecordID) ([]model.EntityID, error) {
	owner, lastID := e.cluster(records)

	affected := model.EntitySet{}
	for r, prev := range e.owner {
		if owner[r] != prev {
			affected.Add(prev)
			if next, ok := owner[r]; ok {
				affected.Add(next)
			}
		}
	}
	for r, next := range owner {
		if _, ok := e.owner[r]; !ok {
			affected.Add(next)
		}
	}
	if prev, ok := e.owner[subject]; ok {
		affected.Add(prev)
	}
	if next, ok := owner[subject]; ok {
		affected.Add(next)
	}

	if e.statePath != "" {
		if err := saveState(e.statePath, records, owner, lastID); err != nil {
			return nil, fmt.Errorf("save engine state: %w", err)
		}
	}
	e.records, e.owner, e.lastID = records, owner, lastID
	return affected.Sorted(), nil
}

// cluster computes the record -> entity assignment for records.
func (e *Engine) cluster(records map[model.RecordID]model.FeatureDocument) (map[model.RecordID]model.EntityID, model.EntityID) {
	ids := make([]model.RecordID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	ids = model.SortRecordIDs(ids)

	uf := newUnionFind(len(ids))
	firstWithValue := make(map[string]int)
	for i, id := range ids {
		for _, key := range e.matchKeys {
			v := normalizeValue(records[id][key])
			if v == "" {
				continue
			}
			k := key + "\x00" + v
			if j, ok := firstWithValue[k]; ok {
				uf.union(i, j)
			} else {
				firstWithValue[k] = i
			}
		}
	}

	type group struct {
		members []model.RecordID
		priors  []model.EntityID
	}
	byRoot := make(map[int]*group)
	var groups []*group
	for i, id := range ids {
		root := uf.find(i)
		g, ok := byRoot[root]
		if !ok {
			g = &group{}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, id)
		if prev, ok := e.owner[id]; ok {
			g.priors = append(g.priors, prev)
		}
	}
	for _, g := range groups {
		g.priors = model.SortEntityIDs(g.priors)
	}

	// Clusters holding prior ids claim first, lowest prior wins ties by
	// first record.
	slices.SortStableFunc(groups, func(a, b *group) int {
		switch {
		case len(a.priors) > 0 && len(b.priors) == 0:
			return -1
		case len(a.priors) == 0 && len(b.priors) > 0:
			return 1
		case len(a.priors) > 0 && a.priors[0] != b.priors[0]:
			if a.priors[0] < b.priors[0] {
				return -1
			}
			return 1
		}
		return model.CompareRecordIDs(a.members[0], b.members[0])
	})

	owner := make(map[model.RecordID]model.EntityID, len(ids))
	claimed := model.EntitySet{}
	lastID := e.lastID
	for _, g := range groups {
		var id model.EntityID
		for _, p := range g.priors {
			if _, taken := claimed[p]; !taken {
				id = p
				break
			}
		}
		if id == 0 {
			lastID++
			id = lastID
		}
		claimed.Add(id)
		for _, r := range g.members {
			owner[r] = id
		}
	}
	return owner, lastID
}

// interesting lists entities sharing a relate key value with the entity that
// now holds subject.
func (e *Engine) interesting(subject model.RecordID) []interestingOut {
	target, ok := e.owner[subject]
	if !ok || len(e.relateKeys) == 0 {
		return nil
	}
	values := make(map[string]bool)
	for _, r := range e.membersOf(target) {
		for _, key := range e.relateKeys {
			if v := normalizeValue(e.records[r][key]); v != "" {
				values[key+"\x00"+v] = true
			}
		}
	}
	related := model.EntitySet{}
	for r, doc := range e.records {
		owner := e.owner[r]
		if owner == target {
			continue
		}
		for _, key := range e.relateKeys {
			if v := normalizeValue(doc[key]); v != "" && values[key+"\x00"+v] {
				related.Add(owner)
			}
		}
	}
	out := make([]interestingOut, 0, len(related))
	for _, id := range related.Sorted() {
		out = append(out, interestingOut{EntityID: int64(id), Degrees: 1})
	}
	return out
}

func (e *Engine) membersOf(id model.EntityID) []model.RecordID {
	var members []model.RecordID
	for r, owner := range e.owner {
		if owner == id {
			members = append(members, r)
		}
	}
	return model.SortRecordIDs(members)
}

// normalizeValue lower-cases a feature value and keeps letters and digits
// only, so "702-919-1300" and "(702) 919 1300" compare equal.
func normalizeValue(v any) string {
	if v == nil {
		return ""
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func entityName(doc model.FeatureDocument) string {
	if full, ok := doc["NAME_FULL"].(string); ok && full != "" {
		return full
	}
	var parts []string
	for _, key := range []string{"PRIMARY_NAME_FIRST", "PRIMARY_NAME_LAST", "NAME_FIRST", "NAME_LAST"} {
		if v, ok := doc[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func decodeFeatures(doc []byte) (model.FeatureDocument, error) {
	features := model.FeatureDocument{}
	if len(bytes.TrimSpace(doc)) == 0 {
		return features, nil
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return features, nil
}

func copyRecords(in map[model.RecordID]model.FeatureDocument) map[model.RecordID]model.FeatureDocument {
	out := make(map[model.RecordID]model.FeatureDocument, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so roots follow record order.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
