package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stableid/internal/model"
)

// CreateRoot inserts a new root stable id. Creating an id that already exists
// is a no-op.
func (s *Store) CreateRoot(ctx context.Context, id model.StableID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stable_ids (stable_id, canonical_id) VALUES (?, NULL)
		ON CONFLICT(stable_id) DO NOTHING
	`, string(id))
	if err != nil {
		return fmt.Errorf("create root %s: %w", id, err)
	}
	return nil
}

// GetCanonical returns the canonical pointer of id.
// found is false when id was never issued; canonical is empty for roots.
func (s *Store) GetCanonical(ctx context.Context, id model.StableID) (model.StableID, bool, error) {
	var canonical sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical_id FROM stable_ids WHERE stable_id = ?`, string(id),
	).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get canonical %s: %w", id, err)
	}
	return model.StableID(canonical.String), true, nil
}

// SetCanonical points id at canonical. id becomes an alias permanently.
func (s *Store) SetCanonical(ctx context.Context, id, canonical model.StableID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stable_ids (stable_id, canonical_id) VALUES (?, ?)
		ON CONFLICT(stable_id) DO UPDATE SET canonical_id = excluded.canonical_id
	`, string(id), string(canonical))
	if err != nil {
		return fmt.Errorf("set canonical %s -> %s: %w", id, canonical, err)
	}
	return nil
}

// GetRecordStableID returns the stable id bound to a record, if any.
func (s *Store) GetRecordStableID(ctx context.Context, rec model.RecordID) (model.StableID, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT stable_id FROM record_stable WHERE data_source = ? AND record_key = ?
	`, rec.DataSource, rec.RecordKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get record stable id %s: %w", rec, err)
	}
	return model.StableID(id), true, nil
}

// SetRecordStableID binds a record to a stable id, replacing any prior binding.
func (s *Store) SetRecordStableID(ctx context.Context, rec model.RecordID, id model.StableID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record_stable (data_source, record_key, stable_id) VALUES (?, ?, ?)
		ON CONFLICT(data_source, record_key) DO UPDATE SET stable_id = excluded.stable_id
	`, rec.DataSource, rec.RecordKey, string(id))
	if err != nil {
		return fmt.Errorf("set record stable id %s: %w", rec, err)
	}
	return nil
}

// GetEntityIDsForStable returns the entity ids bound to a stable id, ascending.
func (s *Store) GetEntityIDsForStable(ctx context.Context, id model.StableID) ([]model.EntityID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM stable_entities WHERE stable_id = ? ORDER BY entity_id ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("get entity ids for %s: %w", id, err)
	}
	defer rows.Close()

	ids := []model.EntityID{}
	for rows.Next() {
		var eid int64
		if err := rows.Scan(&eid); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, model.EntityID(eid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}
	return ids, nil
}

// SetEntityIDsForStable replaces the entity id set bound to a stable id.
func (s *Store) SetEntityIDsForStable(ctx context.Context, id model.StableID, ids []model.EntityID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set entity ids for %s: begin: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stable_entities WHERE stable_id = ?`, string(id)); err != nil {
		return fmt.Errorf("set entity ids for %s: clear: %w", id, err)
	}
	for _, eid := range model.SortEntityIDs(append([]model.EntityID(nil), ids...)) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stable_entities (stable_id, entity_id) VALUES (?, ?)
		`, string(id), int64(eid)); err != nil {
			return fmt.Errorf("set entity ids for %s: insert %d: %w", id, eid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set entity ids for %s: commit: %w", id, err)
	}
	return nil
}

// ListAliases returns the ids whose canonical pointer is exactly canonical.
func (s *Store) ListAliases(ctx context.Context, canonical model.StableID) ([]model.StableID, error) {
	return s.queryStableIDs(ctx, "list aliases", `
		SELECT stable_id FROM stable_ids
		WHERE canonical_id = ? AND stable_id <> canonical_id
		ORDER BY stable_id COLLATE BINARY ASC
	`, string(canonical))
}

// ListStableIDs returns every issued stable id.
func (s *Store) ListStableIDs(ctx context.Context) ([]model.StableID, error) {
	return s.queryStableIDs(ctx, "list stable ids", `
		SELECT stable_id FROM stable_ids ORDER BY stable_id COLLATE BINARY ASC
	`)
}

// ListRecordsForStable returns the records bound directly to a stable id.
func (s *Store) ListRecordsForStable(ctx context.Context, id model.StableID) ([]model.RecordID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_source, record_key FROM record_stable WHERE stable_id = ?
		ORDER BY data_source COLLATE BINARY ASC, record_key COLLATE BINARY ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", id, err)
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
	return records, rows.Err()
}

func (s *Store) queryStableIDs(ctx context.Context, op, query string, args ...any) ([]model.StableID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := []model.StableID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, model.StableID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return ids, nil
}
