package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stableid/internal/model"
)

// GetSnapshot returns the last known state of id.
// A missing row yields Known=false, Exists=false and no records.
func (s *Store) GetSnapshot(ctx context.Context, id model.EntityID) (model.Snapshot, error) {
	snap := model.Snapshot{EntityID: id, Records: []model.RecordID{}}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT exists_now FROM entity_snapshots WHERE entity_id = ?`, int64(id),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	snap.Known = true
	snap.Exists = exists

	records, err := s.GetRecords(ctx, id)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	snap.Records = records
	return snap, nil
}

// GetExistence reports whether id existed at its last snapshot.
func (s *Store) GetExistence(ctx context.Context, id model.EntityID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT exists_now FROM entity_snapshots WHERE entity_id = ?`, int64(id),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get existence %d: %w", id, err)
	}
	return exists, nil
}

// GetRecords returns the records of id at its last snapshot, in record order.
func (s *Store) GetRecords(ctx context.Context, id model.EntityID) ([]model.RecordID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_source, record_key FROM snapshot_records
		WHERE entity_id = ?
		ORDER BY data_source COLLATE BINARY ASC, record_key COLLATE BINARY ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get records %d: %w", id, err)
	}
	defer rows.Close()

	records := []model.RecordID{}
	for rows.Next() {
		var r model.RecordID
		if err := rows.Scan(&r.DataSource, &r.RecordKey); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// PutSnapshot upserts a single snapshot.
func (s *Store) PutSnapshot(ctx context.Context, snap model.Snapshot) error {
	return s.PutSnapshots(ctx, []model.Snapshot{snap})
}

// PutSnapshots upserts every snapshot in one transaction.
// Either all rows are written or none are.
func (s *Store) PutSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put snapshots: begin: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snaps {
		if err := putSnapshotTx(ctx, tx, snap); err != nil {
			return fmt.Errorf("put snapshots: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put snapshots: commit: %w", err)
	}
	return nil
}

func putSnapshotTx(ctx context.Context, tx *sql.Tx, snap model.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_snapshots (entity_id, exists_now) VALUES (?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET exists_now = excluded.exists_now
	`, int64(snap.EntityID), snap.Exists); err != nil {
		return fmt.Errorf("upsert entity %d: %w", snap.EntityID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_records WHERE entity_id = ?`, int64(snap.EntityID),
	); err != nil {
		return fmt.Errorf("clear records of %d: %w", snap.EntityID, err)
	}

	for _, r := range model.SortRecordIDs(append([]model.RecordID(nil), snap.Records...)) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_records (entity_id, data_source, record_key) VALUES (?, ?, ?)
		`, int64(snap.EntityID), r.DataSource, r.RecordKey); err != nil {
			return fmt.Errorf("insert record %s of %d: %w", r, snap.EntityID, err)
		}
	}
	return nil
}
