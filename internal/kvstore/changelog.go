package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/stableid/internal/model"
)

// AppendEvent writes one change log entry; an existing seq is left as is.
func (s *Store) AppendEvent(ctx context.Context, ev model.EventRecord) error {
	val, err := json.Marshal(ev.Normalized())
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		_, found, err := getValue(txn, logKey(ev.Seq))
		if err != nil || found {
			return err
		}
		return txn.Set(logKey(ev.Seq), val)
	})
	if err != nil {
		return fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return nil
}

// ReadEvents returns up to limit events with seq > fromSeq, oldest first.
// limit <= 0 means no limit.
func (s *Store) ReadEvents(ctx context.Context, fromSeq int64, limit int) ([]model.EventRecord, error) {
	events := []model.EventRecord{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixLog
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(logKey(fromSeq + 1)); it.ValidForPrefix(prefixLog); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var ev model.EventRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode seq %d: %w", seqFromLogKey(it.Item().Key()), err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// MaxEventSeq returns the highest seq in the change log, or 0 when empty.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks to the largest key <= the seek key
		it.Seek(logKey(-1))
		if it.ValidForPrefix(prefixLog) {
			seq = seqFromLogKey(it.Item().Key())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}
