package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/stableid/internal/model"
)

type snapshotValue struct {
	Exists  bool             `json:"exists"`
	Records []model.RecordID `json:"records"`
}

// GetSnapshot returns the last known state of id.
func (s *Store) GetSnapshot(ctx context.Context, id model.EntityID) (model.Snapshot, error) {
	snap := model.Snapshot{EntityID: id, Records: []model.RecordID{}}
	err := s.view(ctx, func(txn *badger.Txn) error {
		val, found, err := getValue(txn, snapshotKey(id))
		if err != nil || !found {
			return err
		}
		var sv snapshotValue
		if err := json.Unmarshal(val, &sv); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		snap.Known = true
		snap.Exists = sv.Exists
		snap.Records = model.SortRecordIDs(sv.Records)
		return nil
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return snap, nil
}

// GetExistence reports whether id existed at its last snapshot.
func (s *Store) GetExistence(ctx context.Context, id model.EntityID) (bool, error) {
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return false, err
	}
	return snap.Exists, nil
}

// GetRecords returns the records of id at its last snapshot.
func (s *Store) GetRecords(ctx context.Context, id model.EntityID) ([]model.RecordID, error) {
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Records, nil
}

// PutSnapshot upserts a single snapshot.
func (s *Store) PutSnapshot(ctx context.Context, snap model.Snapshot) error {
	return s.PutSnapshots(ctx, []model.Snapshot{snap})
}

// PutSnapshots upserts every snapshot in one transaction.
func (s *Store) PutSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, snap := range snaps {
			val, err := json.Marshal(snapshotValue{
				Exists:  snap.Exists,
				Records: model.SortRecordIDs(append([]model.RecordID(nil), snap.Records...)),
			})
			if err != nil {
				return fmt.Errorf("encode %d: %w", snap.EntityID, err)
			}
			if err := txn.Set(snapshotKey(snap.EntityID), val); err != nil {
				return fmt.Errorf("set %d: %w", snap.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put snapshots: %w", err)
	}
	return nil
}
