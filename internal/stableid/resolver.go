// Package stableid maintains the forest of stable ids over unstable engine
// entity ids.
//
// A stable id is a root or an alias of another stable id. Alias chains are
// chased with an explicit visited set, so a corrupted forest raises an alias
// cycle fault instead of looping. Ids are never deleted: when logical
// entities merge, every losing id becomes a permanent alias of the survivor.
package stableid

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/stableid/internal/model"
)

// Store persists the alias forest and its bindings.
type Store interface {
	CreateRoot(ctx context.Context, id model.StableID) error
	// GetCanonical returns the canonical pointer; empty for roots.
	// found is false when id was never issued.
	GetCanonical(ctx context.Context, id model.StableID) (canonical model.StableID, found bool, err error)
	SetCanonical(ctx context.Context, id, canonical model.StableID) error
	GetRecordStableID(ctx context.Context, rec model.RecordID) (id model.StableID, found bool, err error)
	SetRecordStableID(ctx context.Context, rec model.RecordID, id model.StableID) error
	GetEntityIDsForStable(ctx context.Context, id model.StableID) ([]model.EntityID, error)
	SetEntityIDsForStable(ctx context.Context, id model.StableID, ids []model.EntityID) error
}

// AliasLister is implemented by stores that can list direct aliases.
type AliasLister interface {
	ListAliases(ctx context.Context, canonical model.StableID) ([]model.StableID, error)
}

// Resolver mints, merges and resolves stable ids.
// Callers serialize upserts that touch the same records.
type Resolver struct {
	store   Store
	gen     IDGenerator
	logger  *slog.Logger
	onMerge func(survivor model.StableID, losers []model.StableID)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGenerator sets the id generator. Default: UUIDGenerator.
func WithGenerator(g IDGenerator) Option {
	return func(r *Resolver) {
		r.gen = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMergeHook registers fn to run after every upsert that merged stable
// ids. losers are sorted.
func WithMergeHook(fn func(survivor model.StableID, losers []model.StableID)) Option {
	return func(r *Resolver) {
		r.onMerge = fn
	}
}

// New creates a Resolver over store.
func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		gen:    UUIDGenerator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveCanonical follows alias pointers from id to its root.
func (r *Resolver) ResolveCanonical(ctx context.Context, id model.StableID) (model.StableID, error) {
	chain, err := r.Chain(ctx, id)
	if err != nil {
		return "", err
	}
	return chain[len(chain)-1], nil
}

// Chain returns the path from id to its root, both ends included.
func (r *Resolver) Chain(ctx context.Context, id model.StableID) ([]model.StableID, error) {
	visited := make(map[model.StableID]bool)
	chain := []model.StableID{}
	current := id
	for {
		if visited[current] {
			return nil, model.NewAliasCycleFault(id, current)
		}
		visited[current] = true

		canonical, found, err := r.store.GetCanonical(ctx, current)
		if err != nil {
			return nil, &model.Fault{Code: model.CodeTransientIO, Message: "read canonical", StableID: current, Err: err}
		}
		if !found {
			if current == id {
				return nil, model.NewUnknownStableIDFault(id)
			}
			return nil, &model.Fault{
				Code:     model.CodeInvariantViolation,
				Message:  fmt.Sprintf("dangling alias: %s points to missing %s", chain[len(chain)-1], current),
				StableID: current,
			}
		}
		chain = append(chain, current)
		if canonical == "" || canonical == current {
			return chain, nil
		}
		current = canonical
	}
}

// UpsertStableIDForEntity assigns the stable id for an entity with the given
// current records: it reuses the single canonical id the records are bound
// to, mints a new one when none are bound, or merges several into the
// survivor picked by PickSurvivor. Every record is rebound to the result and
// entityID is added to its entity binding.
func (r *Resolver) UpsertStableIDForEntity(ctx context.Context, entityID model.EntityID, records []model.RecordID) (model.StableID, error) {
	recs := model.SortRecordIDs(slices.Clone(records))
	if len(recs) == 0 {
		return "", &model.Fault{
			Code:     model.CodeInvariantViolation,
			Message:  "cannot anchor a stable id to an entity with no records",
			EntityID: entityID,
		}
	}

	candidates := make(map[model.StableID]bool)
	for _, rec := range recs {
		bound, found, err := r.store.GetRecordStableID(ctx, rec)
		if err != nil {
			return "", &model.Fault{Code: model.CodeTransientIO, Message: "read record binding", EntityID: entityID, Err: err}
		}
		if !found {
			continue
		}
		canonical, err := r.ResolveCanonical(ctx, bound)
		if model.IsUnknownStableID(err) {
			return "", &model.Fault{
				Code:     model.CodeInvariantViolation,
				Message:  fmt.Sprintf("record %s bound to unissued stable id", rec),
				EntityID: entityID,
				StableID: bound,
			}
		}
		if err != nil {
			return "", err
		}
		candidates[canonical] = true
	}

	var survivor model.StableID
	switch len(candidates) {
	case 0:
		survivor = r.gen.Generate()
		if err := r.store.CreateRoot(ctx, survivor); err != nil {
			return "", &model.Fault{Code: model.CodeTransientIO, Message: "create root", StableID: survivor, Err: err}
		}
		r.logger.Debug("stable id minted", "stable_id", survivor, "entity_id", entityID)
	case 1:
		for id := range candidates {
			survivor = id
		}
	default:
		ids := make([]model.StableID, 0, len(candidates))
		for id := range candidates {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		survivor = PickSurvivor(ids)
		losers := make([]model.StableID, 0, len(ids)-1)
		for _, loser := range ids {
			if loser == survivor {
				continue
			}
			losers = append(losers, loser)
			if err := r.store.SetCanonical(ctx, loser, survivor); err != nil {
				return "", &model.Fault{Code: model.CodeTransientIO, Message: "alias stable id", StableID: loser, Err: err}
			}
			r.logger.Info("stable ids merged",
				"entity_id", entityID,
				"alias", loser,
				"stable_id", survivor,
			)
		}
		if r.onMerge != nil {
			r.onMerge(survivor, losers)
		}
	}

	for _, rec := range recs {
		if err := r.store.SetRecordStableID(ctx, rec, survivor); err != nil {
			return "", &model.Fault{Code: model.CodeTransientIO, Message: "bind record", EntityID: entityID, StableID: survivor, Err: err}
		}
	}

	bound, err := r.store.GetEntityIDsForStable(ctx, survivor)
	if err != nil {
		return "", &model.Fault{Code: model.CodeTransientIO, Message: "read entity binding", StableID: survivor, Err: err}
	}
	if !slices.Contains(bound, entityID) {
		bound = model.SortEntityIDs(append(slices.Clone(bound), entityID))
		if err := r.store.SetEntityIDsForStable(ctx, survivor, bound); err != nil {
			return "", &model.Fault{Code: model.CodeTransientIO, Message: "write entity binding", StableID: survivor, Err: err}
		}
	}
	return survivor, nil
}

// Resolve maps an external stable id to its canonical id and the entity ids
// bound to it. Returns an error matching model.ErrUnknownStableID for ids
// that were never issued.
func (r *Resolver) Resolve(ctx context.Context, external model.StableID) (model.StableID, []model.EntityID, error) {
	canonical, err := r.ResolveCanonical(ctx, external)
	if err != nil {
		return "", nil, err
	}
	ids, err := r.store.GetEntityIDsForStable(ctx, canonical)
	if err != nil {
		return "", nil, &model.Fault{Code: model.CodeTransientIO, Message: "read entity binding", StableID: canonical, Err: err}
	}
	return canonical, model.SortEntityIDs(slices.Clone(ids)), nil
}

// Aliases lists every id, direct or transitive, that resolves to canonical.
// The store must implement AliasLister.
func (r *Resolver) Aliases(ctx context.Context, canonical model.StableID) ([]model.StableID, error) {
	lister, ok := r.store.(AliasLister)
	if !ok {
		return nil, fmt.Errorf("list aliases: store %T cannot list aliases", r.store)
	}

	seen := map[model.StableID]bool{canonical: true}
	queue := []model.StableID{canonical}
	var out []model.StableID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		direct, err := lister.ListAliases(ctx, current)
		if err != nil {
			return nil, &model.Fault{Code: model.CodeTransientIO, Message: "list aliases", StableID: current, Err: err}
		}
		for _, alias := range direct {
			if seen[alias] {
				return nil, model.NewAliasCycleFault(canonical, alias)
			}
			seen[alias] = true
			out = append(out, alias)
			queue = append(queue, alias)
		}
	}
	slices.Sort(out)
	if out == nil {
		out = []model.StableID{}
	}
	return out, nil
}

// PickSurvivor returns the byte-wise smallest id. The choice depends only on
// the set of ids, never on their order.
func PickSurvivor(ids []model.StableID) model.StableID {
	if len(ids) == 0 {
		return ""
	}
	return slices.MinFunc(ids, func(a, b model.StableID) int {
		return strings.Compare(string(a), string(b))
	})
}
