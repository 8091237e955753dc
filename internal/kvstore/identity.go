package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/stableid/internal/model"
)

// CreateRoot inserts a new root stable id. Existing ids are left untouched.
func (s *Store) CreateRoot(ctx context.Context, id model.StableID) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, found, err := getValue(txn, stableKey(id))
		if err != nil || found {
			return err
		}
		return txn.Set(stableKey(id), nil)
	})
	if err != nil {
		return fmt.Errorf("create root %s: %w", id, err)
	}
	return nil
}

// GetCanonical returns the canonical pointer of id; empty for roots.
func (s *Store) GetCanonical(ctx context.Context, id model.StableID) (model.StableID, bool, error) {
	var (
		canonical model.StableID
		found     bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		val, ok, err := getValue(txn, stableKey(id))
		canonical, found = model.StableID(val), ok
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("get canonical %s: %w", id, err)
	}
	return canonical, found, nil
}

// SetCanonical points id at canonical and keeps the alias index in step.
func (s *Store) SetCanonical(ctx context.Context, id, canonical model.StableID) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, found, err := getValue(txn, stableKey(canonical)); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("target %s does not exist", canonical)
		}
		prev, found, err := getValue(txn, stableKey(id))
		if err != nil {
			return err
		}
		if found && len(prev) > 0 {
			if err := txn.Delete(aliasKey(model.StableID(prev), id)); err != nil {
				return err
			}
		}
		if err := txn.Set(stableKey(id), []byte(canonical)); err != nil {
			return err
		}
		if canonical == id {
			return nil
		}
		return txn.Set(aliasKey(canonical, id), nil)
	})
	if err != nil {
		return fmt.Errorf("set canonical %s -> %s: %w", id, canonical, err)
	}
	return nil
}

// GetRecordStableID returns the stable id bound to a record, if any.
func (s *Store) GetRecordStableID(ctx context.Context, rec model.RecordID) (model.StableID, bool, error) {
	var (
		id    model.StableID
		found bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		val, ok, err := getValue(txn, recordKey(rec))
		id, found = model.StableID(val), ok
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("get record stable id %s: %w", rec, err)
	}
	return id, found, nil
}

// SetRecordStableID binds a record to a stable id, replacing any prior binding.
func (s *Store) SetRecordStableID(ctx context.Context, rec model.RecordID, id model.StableID) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		prev, found, err := getValue(txn, recordKey(rec))
		if err != nil {
			return err
		}
		if found {
			if err := txn.Delete(recordStableKey(model.StableID(prev), rec)); err != nil {
				return err
			}
		}
		if err := txn.Set(recordKey(rec), []byte(id)); err != nil {
			return err
		}
		return txn.Set(recordStableKey(id, rec), nil)
	})
	if err != nil {
		return fmt.Errorf("set record stable id %s: %w", rec, err)
	}
	return nil
}

// GetEntityIDsForStable returns the entity ids bound to a stable id, ascending.
func (s *Store) GetEntityIDsForStable(ctx context.Context, id model.StableID) ([]model.EntityID, error) {
	ids := []model.EntityID{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		val, found, err := getValue(txn, entitiesKey(id))
		if err != nil || !found {
			return err
		}
		return json.Unmarshal(val, &ids)
	})
	if err != nil {
		return nil, fmt.Errorf("get entity ids for %s: %w", id, err)
	}
	return model.SortEntityIDs(ids), nil
}

// SetEntityIDsForStable replaces the entity id set bound to a stable id.
func (s *Store) SetEntityIDsForStable(ctx context.Context, id model.StableID, ids []model.EntityID) error {
	val, err := json.Marshal(model.SortEntityIDs(append([]model.EntityID(nil), ids...)))
	if err != nil {
		return fmt.Errorf("set entity ids for %s: %w", id, err)
	}
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(entitiesKey(id), val)
	}); err != nil {
		return fmt.Errorf("set entity ids for %s: %w", id, err)
	}
	return nil
}

// ListAliases returns the ids whose canonical pointer is exactly canonical.
func (s *Store) ListAliases(ctx context.Context, canonical model.StableID) ([]model.StableID, error) {
	prefix := aliasPrefix(canonical)
	out := []model.StableID{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, prefix) {
			parts, err := splitSuffix(key, prefix)
			if err != nil || len(parts) != 1 {
				return fmt.Errorf("malformed alias key %q", key)
			}
			out = append(out, model.StableID(parts[0]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list aliases %s: %w", canonical, err)
	}
	slices.Sort(out)
	return out, nil
}

// ListStableIDs returns every issued stable id in byte order.
func (s *Store) ListStableIDs(ctx context.Context) ([]model.StableID, error) {
	out := []model.StableID{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, prefixStable) {
			parts, err := splitSuffix(key, prefixStable)
			if err != nil || len(parts) != 1 {
				return fmt.Errorf("malformed stable id key %q", key)
			}
			out = append(out, model.StableID(parts[0]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list stable ids: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// ListRecordsForStable returns the records bound directly to a stable id.
func (s *Store) ListRecordsForStable(ctx context.Context, id model.StableID) ([]model.RecordID, error) {
	prefix := recordStablePrefix(id)
	out := []model.RecordID{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, prefix) {
			parts, err := splitSuffix(key, prefix)
			if err != nil || len(parts) != 2 {
				return fmt.Errorf("malformed record index key %q", key)
			}
			out = append(out, model.RecordID{DataSource: parts[0], RecordKey: parts[1]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", id, err)
	}
	return model.SortRecordIDs(out), nil
}
