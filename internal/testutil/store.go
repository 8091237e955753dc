package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/stableid/internal/model"
)

// Store operation names accepted by MemoryStore.FailOn.
const (
	OpGetSnapshot           = "GetSnapshot"
	OpPutSnapshots          = "PutSnapshots"
	OpCreateRoot            = "CreateRoot"
	OpGetCanonical          = "GetCanonical"
	OpSetCanonical          = "SetCanonical"
	OpGetRecordStableID     = "GetRecordStableID"
	OpSetRecordStableID     = "SetRecordStableID"
	OpGetEntityIDsForStable = "GetEntityIDsForStable"
	OpSetEntityIDsForStable = "SetEntityIDsForStable"
	OpAppendEvent           = "AppendEvent"
	OpReadEvents            = "ReadEvents"
	OpPing                  = "Ping"
)

// MemoryStore is an in-memory snapshot, identity and change log store with
// fault injection.
//
// SetCanonical performs no existence checks, so tests can build cycles and
// dangling aliases that a real store would refuse.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu             sync.Mutex
	snapshots      map[model.EntityID]model.Snapshot
	canonical      map[model.StableID]model.StableID
	recordStable   map[model.RecordID]model.StableID
	stableEntities map[model.StableID][]model.EntityID
	events         []model.EventRecord
	faults         map[string]error
	writes         int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:      make(map[model.EntityID]model.Snapshot),
		canonical:      make(map[model.StableID]model.StableID),
		recordStable:   make(map[model.RecordID]model.StableID),
		stableEntities: make(map[model.StableID][]model.EntityID),
		faults:         make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Writes counts successful mutating calls.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Snapshots returns a copy of every stored snapshot.
func (m *MemoryStore) Snapshots() map[model.EntityID]model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.snapshots)
}

func (m *MemoryStore) fault(op string) error {
	return m.faults[op]
}

// GetSnapshot implements the snapshot store contract.
func (m *MemoryStore) GetSnapshot(_ context.Context, id model.EntityID) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetSnapshot); err != nil {
		return model.Snapshot{}, err
	}
	snap, ok := m.snapshots[id]
	if !ok {
		return model.Snapshot{EntityID: id, Records: []model.RecordID{}}, nil
	}
	snap.Records = slices.Clone(snap.Records)
	return snap, nil
}

// PutSnapshots implements the snapshot store contract. All or nothing.
func (m *MemoryStore) PutSnapshots(_ context.Context, snaps []model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpPutSnapshots); err != nil {
		return err
	}
	for _, s := range snaps {
		s.Known = true
		s.Records = model.SortRecordIDs(slices.Clone(s.Records))
		m.snapshots[s.EntityID] = s
	}
	m.writes++
	return nil
}

// CreateRoot implements stableid.Store.
func (m *MemoryStore) CreateRoot(_ context.Context, id model.StableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpCreateRoot); err != nil {
		return err
	}
	if _, ok := m.canonical[id]; !ok {
		m.canonical[id] = ""
	}
	m.writes++
	return nil
}

// GetCanonical implements stableid.Store.
func (m *MemoryStore) GetCanonical(_ context.Context, id model.StableID) (model.StableID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetCanonical); err != nil {
		return "", false, err
	}
	c, ok := m.canonical[id]
	return c, ok, nil
}

// SetCanonical implements stableid.Store without existence checks.
func (m *MemoryStore) SetCanonical(_ context.Context, id, canonical model.StableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSetCanonical); err != nil {
		return err
	}
	m.canonical[id] = canonical
	m.writes++
	return nil
}

// GetRecordStableID implements stableid.Store.
func (m *MemoryStore) GetRecordStableID(_ context.Context, rec model.RecordID) (model.StableID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetRecordStableID); err != nil {
		return "", false, err
	}
	id, ok := m.recordStable[rec]
	return id, ok, nil
}

// SetRecordStableID implements stableid.Store.
func (m *MemoryStore) SetRecordStableID(_ context.Context, rec model.RecordID, id model.StableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSetRecordStableID); err != nil {
		return err
	}
	m.recordStable[rec] = id
	m.writes++
	return nil
}

// GetEntityIDsForStable implements stableid.Store.
func (m *MemoryStore) GetEntityIDsForStable(_ context.Context, id model.StableID) ([]model.EntityID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetEntityIDsForStable); err != nil {
		return nil, err
	}
	ids := slices.Clone(m.stableEntities[id])
	if ids == nil {
		ids = []model.EntityID{}
	}
	return ids, nil
}

// SetEntityIDsForStable implements stableid.Store.
func (m *MemoryStore) SetEntityIDsForStable(_ context.Context, id model.StableID, ids []model.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSetEntityIDsForStable); err != nil {
		return err
	}
	m.stableEntities[id] = model.SortEntityIDs(slices.Clone(ids))
	m.writes++
	return nil
}

// ListAliases implements stableid.AliasLister.
func (m *MemoryStore) ListAliases(_ context.Context, canonical model.StableID) ([]model.StableID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.StableID{}
	for id, c := range m.canonical {
		if c == canonical && id != canonical {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// AppendEvent implements the change log contract.
func (m *MemoryStore) AppendEvent(_ context.Context, ev model.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpAppendEvent); err != nil {
		return err
	}
	for _, existing := range m.events {
		if existing.Seq == ev.Seq {
			return nil
		}
	}
	m.events = append(m.events, ev.Normalized())
	m.writes++
	return nil
}

// ReadEvents implements the change log contract.
func (m *MemoryStore) ReadEvents(_ context.Context, fromSeq int64, limit int) ([]model.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpReadEvents); err != nil {
		return nil, err
	}
	out := []model.EventRecord{}
	for _, ev := range m.events {
		if ev.Seq <= fromSeq {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// MaxEventSeq implements the change log contract.
func (m *MemoryStore) MaxEventSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq int64
	for _, ev := range m.events {
		seq = max(seq, ev.Seq)
	}
	return seq, nil
}

// Ping reports the injected Ping fault, if any.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault(OpPing)
}
