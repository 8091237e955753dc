package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/stableid/internal/model"
)

// AppendEvent writes one change log entry. Appending a seq that already
// exists is a no-op so a replayed event never duplicates history.
func (s *Store) AppendEvent(ctx context.Context, ev model.EventRecord) error {
	affected, changes, stableIDs, err := marshalEvent(ev)
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_log
		(seq, kind, data_source, record_key, feature_hash, affected, changes, stable_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		ev.Seq,
		string(ev.Kind),
		ev.Record.DataSource,
		ev.Record.RecordKey,
		ev.FeatureHash,
		affected,
		changes,
		stableIDs,
	)
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return nil
}

// ReadEvents returns up to limit events with seq > fromSeq, oldest first.
// limit <= 0 means no limit.
func (s *Store) ReadEvents(ctx context.Context, fromSeq int64, limit int) ([]model.EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, data_source, record_key, feature_hash, affected, changes, stable_ids
		FROM change_log
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	events := []model.EventRecord{}
	for rows.Next() {
		var (
			ev                           model.EventRecord
			kind                         string
			affected, changes, stableIDs string
		)
		if err := rows.Scan(&ev.Seq, &kind, &ev.Record.DataSource, &ev.Record.RecordKey,
			&ev.FeatureHash, &affected, &changes, &stableIDs); err != nil {
			return nil, fmt.Errorf("read events: scan: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		if err := unmarshalEvent(&ev, affected, changes, stableIDs); err != nil {
			return nil, fmt.Errorf("read events: seq %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: iterate: %w", err)
	}
	return events, nil
}

// MaxEventSeq returns the highest seq in the change log, or 0 when empty.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM change_log`,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}

func marshalEvent(ev model.EventRecord) (affected, changes, stableIDs string, err error) {
	ev = ev.Normalized()
	a, err := json.Marshal(ev.AffectedIDs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal affected ids: %w", err)
	}
	c, err := json.Marshal(ev.Changes)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal changes: %w", err)
	}
	sid, err := json.Marshal(ev.StableIDs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal stable ids: %w", err)
	}
	return string(a), string(c), string(sid), nil
}

func unmarshalEvent(ev *model.EventRecord, affected, changes, stableIDs string) error {
	if err := json.Unmarshal([]byte(affected), &ev.AffectedIDs); err != nil {
		return fmt.Errorf("unmarshal affected ids: %w", err)
	}
	if err := json.Unmarshal([]byte(changes), &ev.Changes); err != nil {
		return fmt.Errorf("unmarshal changes: %w", err)
	}
	if err := json.Unmarshal([]byte(stableIDs), &ev.StableIDs); err != nil {
		return fmt.Errorf("unmarshal stable ids: %w", err)
	}
	return nil
}
