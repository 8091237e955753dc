package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
)

// FakeEngine is a scripted resolution engine. Tests set the current
// membership of each entity id directly and inject per-id read errors.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeEngine struct {
	mu       sync.Mutex
	entities map[model.EntityID][]model.RecordID
	errs     map[model.EntityID]error
	next     resolution.AddResult
	reads    atomic.Int64
}

// NewFakeEngine creates an engine with no entities.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		entities: make(map[model.EntityID][]model.RecordID),
		errs:     make(map[model.EntityID]error),
	}
}

// SetEntity makes id exist with records.
func (f *FakeEngine) SetEntity(id model.EntityID, records ...model.RecordID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[id] = slices.Clone(records)
}

// RemoveEntity makes id not exist.
func (f *FakeEngine) RemoveEntity(id model.EntityID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entities, id)
}

// FailGet makes reads of id return err. A nil err clears it.
func (f *FakeEngine) FailGet(id model.EntityID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, id)
		return
	}
	f.errs[id] = err
}

// SetNextResult scripts the result of the next AddRecord or DeleteRecord.
func (f *FakeEngine) SetNextResult(res resolution.AddResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = res
}

// Reads counts GetEntity calls.
func (f *FakeEngine) Reads() int64 {
	return f.reads.Load()
}

// AddRecord returns the scripted result.
func (f *FakeEngine) AddRecord(_ context.Context, id model.RecordID, _ model.FeatureDocument) (resolution.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.next
	res.RecordID = id
	return res, nil
}

// DeleteRecord returns the scripted result.
func (f *FakeEngine) DeleteRecord(ctx context.Context, id model.RecordID) (resolution.AddResult, error) {
	return f.AddRecord(ctx, id, nil)
}

// GetEntity returns the scripted membership of id.
func (f *FakeEngine) GetEntity(ctx context.Context, id model.EntityID) (resolution.Entity, error) {
	f.reads.Add(1)
	if err := ctx.Err(); err != nil {
		return resolution.Entity{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return resolution.Entity{}, err
	}
	records, ok := f.entities[id]
	if !ok {
		return resolution.Entity{}, fmt.Errorf("entity %d: %w", id, resolution.ErrNotFound)
	}
	return resolution.Entity{EntityID: id, Records: model.SortRecordIDs(slices.Clone(records))}, nil
}
