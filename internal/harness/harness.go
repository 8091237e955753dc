package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/stableid/internal/classifier"
	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/kvstore"
	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
	"github.com/roach88/stableid/internal/resolution/memengine"
	"github.com/roach88/stableid/internal/schema"
	"github.com/roach88/stableid/internal/stableid"
	"github.com/roach88/stableid/internal/store"
)

// StableIDPrefix prefixes every stable id minted during a run.
const StableIDPrefix = "S-"

// Backend is the storage a scenario runs against.
type Backend interface {
	classifier.SnapshotStore
	stableid.Store
	stableid.AliasLister
	engine.ChangeLog
	ReadEvents(ctx context.Context, fromSeq int64, limit int) ([]model.EventRecord, error)
	Close() error
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	badger bool
	logger *slog.Logger
}

// WithBadger runs the scenario against an in-memory Badger store instead of
// in-memory SQLite.
func WithBadger() Option {
	return func(c *runConfig) {
		c.badger = true
	}
}

// WithLogger sets the pipeline logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Harness is the wired pipeline for one scenario run.
type Harness struct {
	store    Backend
	resolver *stableid.Resolver
	engine   *engine.Engine
	logger   *slog.Logger
}

// Run executes a scenario from an empty store and returns its trace.
//
// Expectation and assertion failures are reported in the Result. An error is
// returned only when the pipeline could not be built or a step failed with an
// error the scenario did not expect.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, err
	}
	for i, a := range scenario.Assertions {
		if err := h.checkAssertion(ctx, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	st, err := openBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	mem, err := memengine.New(memengine.Options{MatchKeys: scenario.MatchKeys})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create resolution engine: %w", err)
	}
	validator, err := schema.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to compile feature schema: %w", err)
	}

	res := resolution.NewTyped(mem)
	resolver := stableid.New(st,
		stableid.WithGenerator(stableid.NewSequenceGenerator(StableIDPrefix)),
		stableid.WithLogger(logger),
	)
	eng := engine.New(res,
		classifier.New(st, res, classifier.WithLogger(logger)),
		resolver,
		engine.WithChangeLog(st),
		engine.WithValidator(validator),
		engine.WithLogger(logger),
	)

	return &Harness{
		store:    st,
		resolver: resolver,
		engine:   eng,
		logger:   logger,
	}, nil
}

func openBackend(cfg runConfig, logger *slog.Logger) (Backend, error) {
	if cfg.badger {
		kv := kvstore.InMemoryConfig()
		kv.Logger = logger
		st, err := kvstore.Open(kv)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (h *Harness) close() {
	if err := h.store.Close(); err != nil {
		h.logger.Error("error closing store", "error", err)
	}
}

// executeFlow applies every step and checks its expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		kind, rec, res, err := h.applyStep(ctx, step)

		var want string
		if step.Expect != nil {
			want = step.Expect.Error
		}
		if err != nil {
			code := ErrorCode(err)
			if want == "" {
				return fmt.Errorf("flow step %d: %s %s: %w", i, kind, rec, err)
			}
			if code != want {
				result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %s (%v)", i, want, code, err))
			}
			result.AddErrorTrace(kind, rec, code)
			continue
		}
		if want != "" {
			result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got success (seq %d)", i, want, res.Seq))
		}

		result.AddEventTrace(res)
		if step.Expect != nil {
			checkExpect(i, step.Expect, res, result)
		}

		h.logger.Debug("flow step completed",
			"step", i,
			"kind", string(kind),
			"record", rec.String(),
			"seq", res.Seq,
		)
	}
	return nil
}

func (h *Harness) applyStep(ctx context.Context, step Step) (model.EventKind, model.RecordID, *engine.EventResult, error) {
	if step.Add != nil {
		rec := model.Record{
			ID:       model.NewRecordID(step.Add.DataSource, step.Add.RecordID),
			Features: model.FeatureDocument(step.Add.Features),
		}
		if rec.Features == nil {
			rec.Features = model.FeatureDocument{}
		}
		res, err := h.engine.AddRecord(ctx, rec)
		return model.EventAddRecord, rec.ID, res, err
	}
	id := model.NewRecordID(step.Delete.DataSource, step.Delete.RecordID)
	res, err := h.engine.DeleteRecord(ctx, id)
	return model.EventDeleteRecord, id, res, err
}

// checkExpect compares one event result with its expect clause.
func checkExpect(step int, want *Expect, res *engine.EventResult, result *Result) {
	got := make(map[model.EntityID]model.Status, len(res.Changes))
	for _, c := range res.Changes {
		got[c.EntityID] = c.Status
	}
	for _, id := range sortedKeys(want.Statuses) {
		status, ok := got[id]
		switch {
		case !ok:
			result.AddError(fmt.Sprintf("flow[%d]: entity %d not affected, expected %s", step, id, want.Statuses[id]))
		case status.String() != want.Statuses[id]:
			result.AddError(fmt.Sprintf("flow[%d]: entity %d: expected %s, got %s", step, id, want.Statuses[id], status))
		}
	}
	for _, id := range sortedKeys(want.StableIDs) {
		if sid := res.StableIDs[id]; sid != want.StableIDs[id] {
			result.AddError(fmt.Sprintf("flow[%d]: entity %d: expected stable id %q, got %q", step, id, want.StableIDs[id], sid))
		}
	}
}

// ErrorCode reduces an event error to the code scenarios match on.
func ErrorCode(err error) string {
	var reject *engine.RejectError
	switch {
	case errors.As(err, &reject):
		return string(reject.Code)
	case engine.IsNeedsReconciliation(err):
		return "NEEDS_RECONCILIATION"
	}
	if code := model.FaultCodeOf(err); code != "" {
		return string(code)
	}
	return "INTERNAL"
}
