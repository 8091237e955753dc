// Package classifier determines how each entity id touched by an ingestion
// event changed relative to its last known snapshot.
//
// One call to Classify is one ordered unit: snapshot reads, then engine
// reads, then a single all-or-nothing snapshot write once every id has been
// classified. Any fault before the write leaves the store untouched.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
)

// SnapshotStore persists the last known state of each entity id.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, id model.EntityID) (model.Snapshot, error)
	PutSnapshots(ctx context.Context, snaps []model.Snapshot) error
}

// EntityReader reads current membership from the resolution engine.
type EntityReader interface {
	GetEntity(ctx context.Context, id model.EntityID) (resolution.Entity, error)
}

// DefaultFetchConcurrency bounds concurrent engine reads per batch.
const DefaultFetchConcurrency = 8

// Classifier is the change classifier. Safe for concurrent use, but callers
// must serialize batches that touch the same ids.
type Classifier struct {
	store            SnapshotStore
	engine           EntityReader
	fetchConcurrency int
	logger           *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFetchConcurrency bounds concurrent engine reads. Values below 1 mean 1.
func WithFetchConcurrency(n int) Option {
	return func(c *Classifier) {
		c.fetchConcurrency = max(n, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// New creates a Classifier.
func New(store SnapshotStore, engine EntityReader, opts ...Option) *Classifier {
	c := &Classifier{
		store:            store,
		engine:           engine,
		fetchConcurrency: DefaultFetchConcurrency,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns one summary per distinct id in affected, ascending by id,
// and rewrites the snapshot of every id to its current state.
func (c *Classifier) Classify(ctx context.Context, affected []model.EntityID) ([]model.EntityChangeSummary, error) {
	ids := model.SortEntityIDs(slices.Clone(affected))
	if len(ids) == 0 {
		return []model.EntityChangeSummary{}, nil
	}

	pre := make([]model.Snapshot, len(ids))
	for i, id := range ids {
		snap, err := c.store.GetSnapshot(ctx, id)
		if err != nil {
			return nil, &model.Fault{Code: model.CodeTransientIO, Message: "read snapshot", EntityID: id, Err: err}
		}
		snap.Records = model.SortRecordIDs(slices.Clone(snap.Records))
		pre[i] = snap
	}

	post, err := c.fetchCurrent(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries, err := summarize(pre, post)
	if err != nil {
		return nil, err
	}

	// Past this point the batch is committed; cancellation must not split it.
	if err := c.store.PutSnapshots(context.WithoutCancel(ctx), post); err != nil {
		return nil, model.NewTransientFault("write snapshots", err)
	}

	for _, s := range summaries {
		c.logger.Debug("entity classified",
			"entity_id", s.EntityID,
			"status", s.Status.String(),
			"pre_records", len(s.PreRecords),
			"post_records", len(s.PostRecords),
		)
	}
	return summaries, nil
}

// fetchCurrent reads current membership for every id. Results are indexed
// like ids so read order never affects output.
func (c *Classifier) fetchCurrent(ctx context.Context, ids []model.EntityID) ([]model.Snapshot, error) {
	post := make([]model.Snapshot, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			ent, err := c.engine.GetEntity(gctx, id)
			if errors.Is(err, resolution.ErrNotFound) {
				post[i] = model.Snapshot{EntityID: id, Known: true, Records: []model.RecordID{}}
				return nil
			}
			if err != nil {
				return &model.Fault{Code: model.CodeTransientIO, Message: "read entity", EntityID: id, Err: err}
			}
			post[i] = model.Snapshot{
				EntityID: id,
				Known:    true,
				Exists:   true,
				Records:  model.SortRecordIDs(slices.Clone(ent.Records)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return post, nil
}

// summarize builds every summary from the pre and post states of one batch.
// pre and post are indexed by the same sorted ids.
func summarize(pre, post []model.Snapshot) ([]model.EntityChangeSummary, error) {
	owners := make(map[model.RecordID]model.EntitySet)
	for _, p := range post {
		if !p.Exists {
			continue
		}
		for _, r := range p.Records {
			if owners[r] == nil {
				owners[r] = model.EntitySet{}
			}
			owners[r].Add(p.EntityID)
		}
	}

	next := make([][]model.EntityID, len(pre))
	deleted := make([][]model.RecordID, len(pre))
	contributors := make(map[model.EntityID]model.EntitySet)
	for i, p := range pre {
		nextSet := model.EntitySet{}
		var gone []model.RecordID
		if p.Exists {
			for _, r := range p.Records {
				if len(owners[r]) == 0 {
					gone = append(gone, r)
					continue
				}
				for owner := range owners[r] {
					nextSet.Add(owner)
				}
			}
		}
		next[i] = nextSet.Sorted()
		deleted[i] = model.SortRecordIDs(gone)
		for _, survivor := range next[i] {
			if contributors[survivor] == nil {
				contributors[survivor] = model.EntitySet{}
			}
			contributors[survivor].Add(p.EntityID)
		}
	}

	summaries := make([]model.EntityChangeSummary, len(pre))
	for i := range pre {
		s := model.EntityChangeSummary{
			EntityID:       pre[i].EntityID,
			PreExists:      pre[i].Exists,
			PostExists:     post[i].Exists,
			PreRecords:     nonNil(pre[i].Records),
			PostRecords:    nonNil(post[i].Records),
			NextEntities:   next[i],
			DeletedRecords: deleted[i],
			Contributors:   contributors[pre[i].EntityID].Sorted(),
		}
		if !s.PreExists {
			// records of a dead or unseen id are not carried forward
			s.PreRecords = []model.RecordID{}
		}
		s.Status = Decide(s.PreExists, s.PostExists, s.PreRecords, s.PostRecords, len(s.NextEntities))
		if s.Status == model.StatusUnknown {
			if !pre[i].Known {
				return nil, &model.Fault{
					Code:     model.CodeInvariantViolation,
					Message:  "entity reported affected but neither known before nor present now",
					EntityID: s.EntityID,
				}
			}
			// a retained tombstone that is still gone: nothing changed
			s.Status = model.StatusUnchanged
		}
		summaries[i] = s
	}
	return summaries, nil
}

// Decide is the classification decision table. It is a pure function of its
// inputs and returns StatusUnknown only for the false/false row.
// Classify, not Decide, resolves that row: a retained tombstone becomes
// StatusUnchanged and a never-seen id is an invariant violation.
func Decide(preExists, postExists bool, preRecords, postRecords []model.RecordID, nextCount int) model.Status {
	switch {
	case !preExists && postExists:
		return model.StatusBirth
	case preExists && !postExists:
		switch {
		case nextCount == 0:
			return model.StatusDeath
		case nextCount == 1:
			return model.StatusMergeInto
		default:
			return model.StatusSplitInto
		}
	case preExists && postExists:
		before := model.NewRecordSet(preRecords...)
		after := model.NewRecordSet(postRecords...)
		gained, lost := false, false
		for r := range after {
			if !before.Has(r) {
				gained = true
				break
			}
		}
		for r := range before {
			if !after.Has(r) {
				lost = true
				break
			}
		}
		switch {
		case gained && lost:
			return model.StatusChanged
		case gained:
			return model.StatusGrow
		case lost:
			return model.StatusShrink
		default:
			return model.StatusUnchanged
		}
	default:
		return model.StatusUnknown
	}
}

func nonNil(records []model.RecordID) []model.RecordID {
	if records == nil {
		return []model.RecordID{}
	}
	return records
}

// String renders a one-line description of a summary for logs and the CLI.
func String(s model.EntityChangeSummary) string {
	return fmt.Sprintf("%d %s pre=%d post=%d next=%v deleted=%d",
		s.EntityID, s.Status, len(s.PreRecords), len(s.PostRecords), s.NextEntities, len(s.DeletedRecords))
}
