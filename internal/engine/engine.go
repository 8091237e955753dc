package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/stableid/internal/metrics"
	"github.com/roach88/stableid/internal/model"
	"github.com/roach88/stableid/internal/resolution"
)

var tracer = otel.Tracer("stableid.engine")

// Classifier diffs affected entity ids against their snapshots.
// Implemented by *classifier.Classifier.
type Classifier interface {
	Classify(ctx context.Context, affected []model.EntityID) ([]model.EntityChangeSummary, error)
}

// Resolver anchors stable ids to entities.
// Implemented by *stableid.Resolver.
type Resolver interface {
	UpsertStableIDForEntity(ctx context.Context, entityID model.EntityID, records []model.RecordID) (model.StableID, error)
}

// ChangeLog records processed events.
type ChangeLog interface {
	AppendEvent(ctx context.Context, ev model.EventRecord) error
	MaxEventSeq(ctx context.Context) (int64, error)
}

// FeatureValidator checks a feature document before ingestion.
// Implemented by *schema.Validator.
type FeatureValidator interface {
	Validate(doc model.FeatureDocument) error
}

// Sequencer numbers processed events. Implemented by Clock.
type Sequencer interface {
	Next() int64
	Current() int64
	AdvanceTo(last int64)
}

// EventResult is the outcome of one processed event.
type EventResult struct {
	Seq         int64                             `json:"seq"`
	Kind        model.EventKind                   `json:"kind"`
	Record      model.RecordID                    `json:"record"`
	FeatureHash string                            `json:"feature_hash,omitempty"`
	AffectedIDs []model.EntityID                  `json:"affected_ids"`
	Interesting []resolution.InterestingEntity    `json:"interesting"`
	Changes     []model.EntityChangeSummary       `json:"changes"`
	StableIDs   map[model.EntityID]model.StableID `json:"stable_ids"`
}

// Engine is the event coordinator.
//
// Thread-safety model:
//   - AddRecord, DeleteRecord, Process: safe from any goroutine; serialized
//   - Enqueue: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	resolution resolution.Engine
	classifier Classifier
	resolver   Resolver
	changeLog  ChangeLog
	validator  FeatureValidator
	seq        Sequencer
	queue      *eventQueue
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// mu serializes event processing.
	mu sync.Mutex
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithChangeLog appends every processed event to log.
func WithChangeLog(log ChangeLog) EngineOption {
	return func(e *Engine) {
		e.changeLog = log
	}
}

// WithValidator validates feature documents before ingestion.
func WithValidator(v FeatureValidator) EngineOption {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithSequencer replaces the logical clock.
func WithSequencer(s Sequencer) EngineOption {
	return func(e *Engine) {
		e.seq = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine.
func New(res resolution.Engine, c Classifier, r Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		resolution: res,
		classifier: c,
		resolver:   r,
		seq:        NewClock(),
		queue:      newEventQueue(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resume continues sequence numbering after the last logged event.
// Call before processing the first event.
func (e *Engine) Resume(ctx context.Context) error {
	if e.changeLog == nil {
		return nil
	}
	last, err := e.changeLog.MaxEventSeq(ctx)
	if err != nil {
		return fmt.Errorf("resume clock: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq.AdvanceTo(last)
	e.logger.Info("engine resumed", "seq", e.seq.Current(), "logged", last)
	return nil
}

// AddRecord ingests or replaces a record.
func (e *Engine) AddRecord(ctx context.Context, rec model.Record) (*EventResult, error) {
	return e.Process(ctx, Event{Kind: model.EventAddRecord, Record: rec})
}

// DeleteRecord removes a record.
func (e *Engine) DeleteRecord(ctx context.Context, id model.RecordID) (*EventResult, error) {
	return e.Process(ctx, Event{Kind: model.EventDeleteRecord, Record: model.Record{ID: id}})
}

// Process runs one event to completion.
func (e *Engine) Process(ctx context.Context, ev Event) (*EventResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.processEvent(ctx, ev)

	outcome := metrics.OutcomeOK
	switch {
	case IsRejected(err):
		outcome = metrics.OutcomeRejected
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	affected := 0
	if res != nil {
		affected = len(res.AffectedIDs)
	}
	e.metrics.ObserveEvent(string(ev.Kind), outcome, affected, time.Since(start))
	return res, err
}

// Enqueue submits an event for the Run loop. The returned channel receives
// exactly one Outcome. Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) (<-chan Outcome, bool) {
	done := make(chan Outcome, 1)
	if !e.queue.Enqueue(queued{event: ev, done: done}) {
		return nil, false
	}
	e.metrics.SetQueueDepth(e.queue.Len())
	return done, true
}

// Run drains the queue until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failed event is logged with its context and delivered to
// its submitter; processing continues with the next event. Events still
// queued when ctx is cancelled receive ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if err := ctx.Err(); err != nil {
			return e.stopCancelled(err)
		}

		item, ok := e.queue.TryDequeue()
		if ok {
			e.metrics.SetQueueDepth(e.queue.Len())
			res, err := e.Process(ctx, item.event)
			if err != nil {
				e.logEventError(item.event, err)
			}
			item.done <- Outcome{Result: res, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			return e.stopCancelled(ctx.Err())

		case <-e.queue.Wait():
			// The signal channel closes with the queue; a stale signal on an
			// open queue just loops back.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after processing what is queued.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Seq returns the sequence number of the last processed event.
func (e *Engine) Seq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.Current()
}

// stopCancelled closes the queue and fails everything still in it.
func (e *Engine) stopCancelled(err error) error {
	e.logger.Info("engine stopping: context cancelled", "pending", e.queue.Len())
	e.queue.Close()
	e.drain()
	return err
}

func (e *Engine) drain() {
	for {
		item, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		item.done <- Outcome{Err: ErrStopped}
	}
}

// processEvent validates and routes one event. Called with mu held.
func (e *Engine) processEvent(ctx context.Context, ev Event) (*EventResult, error) {
	id := model.NewRecordID(ev.Record.ID.DataSource, ev.Record.ID.RecordKey)
	if id.IsZero() || id.DataSource == "" || id.RecordKey == "" {
		return nil, &RejectError{
			Code:    ErrCodeInvalidRecordID,
			Message: "data source and record key are required",
			Record:  id,
		}
	}

	ctx, span := tracer.Start(ctx, "engine.Process",
		trace.WithAttributes(
			attribute.String("stableid.kind", string(ev.Kind)),
			attribute.String("stableid.record", id.String()),
		),
	)
	defer span.End()

	var (
		res *EventResult
		err error
	)
	switch ev.Kind {
	case model.EventAddRecord:
		res, err = e.processAdd(ctx, id, ev.Record.Features)
	case model.EventDeleteRecord:
		res, err = e.processDelete(ctx, id)
	default:
		err = &RejectError{
			Code:    ErrCodeUnknownKind,
			Message: fmt.Sprintf("unknown event kind %q", ev.Kind),
			Record:  id,
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("stableid.seq", res.Seq),
		attribute.Int("stableid.affected", len(res.AffectedIDs)),
	)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (e *Engine) processAdd(ctx context.Context, id model.RecordID, features model.FeatureDocument) (*EventResult, error) {
	if features == nil {
		features = model.FeatureDocument{}
	}
	if e.validator != nil {
		if err := e.validator.Validate(features); err != nil {
			return nil, &RejectError{
				Code:    ErrCodeInvalidFeatures,
				Message: "feature document failed validation",
				Record:  id,
				Err:     err,
			}
		}
	}
	hash, err := model.FeatureHash(features)
	if err != nil {
		return nil, &RejectError{
			Code:    ErrCodeInvalidFeatures,
			Message: "feature document is not canonicalizable",
			Record:  id,
			Err:     err,
		}
	}

	added, err := e.resolution.AddRecord(ctx, id, features)
	if err != nil {
		return nil, model.NewTransientFault("add record", err)
	}
	res, err := e.apply(ctx, model.EventAddRecord, id, added)
	if err != nil {
		return nil, err
	}
	res.FeatureHash = hash
	return res, e.record(ctx, res)
}

func (e *Engine) processDelete(ctx context.Context, id model.RecordID) (*EventResult, error) {
	deleted, err := e.resolution.DeleteRecord(ctx, id)
	if err != nil {
		return nil, model.NewTransientFault("delete record", err)
	}
	res, err := e.apply(ctx, model.EventDeleteRecord, id, deleted)
	if err != nil {
		return nil, err
	}
	return res, e.record(ctx, res)
}

// apply classifies the affected ids and upserts stable ids for every
// surviving entity.
func (e *Engine) apply(ctx context.Context, kind model.EventKind, id model.RecordID, added resolution.AddResult) (*EventResult, error) {
	affected := model.SortEntityIDs(slices.Clone(added.AffectedEntityIDs))
	summaries, err := e.classifier.Classify(ctx, affected)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", id, err)
	}

	// Snapshots are written; the rest must not be abandoned halfway.
	ctx = context.WithoutCancel(ctx)

	interesting := added.Interesting
	if interesting == nil {
		interesting = []resolution.InterestingEntity{}
	}
	res := &EventResult{
		Seq:         e.seq.Next(),
		Kind:        kind,
		Record:      id,
		AffectedIDs: affected,
		Interesting: interesting,
		Changes:     summaries,
		StableIDs:   make(map[model.EntityID]model.StableID),
	}

	for _, s := range summaries {
		e.metrics.ObserveStatus(s.Status.String())
		if !s.PostExists || len(s.PostRecords) == 0 {
			continue
		}
		sid, err := e.resolver.UpsertStableIDForEntity(ctx, s.EntityID, s.PostRecords)
		if err != nil {
			e.logger.Error("stable id upsert failed after snapshot write",
				"error", err,
				"seq", res.Seq,
				"record", id.String(),
				"entity_id", s.EntityID,
			)
			return nil, fmt.Errorf("upsert stable id for entity %d: %w: %w", s.EntityID, model.ErrNeedsReconciliation, err)
		}
		res.StableIDs[s.EntityID] = sid
	}

	e.logger.Info("event processed",
		"seq", res.Seq,
		"kind", string(kind),
		"record", id.String(),
		"affected", len(affected),
		"stable_ids", len(res.StableIDs),
	)
	return res, nil
}

// record appends res to the change log.
func (e *Engine) record(ctx context.Context, res *EventResult) error {
	if e.changeLog == nil {
		return nil
	}
	ev := model.EventRecord{
		Seq:         res.Seq,
		Kind:        res.Kind,
		Record:      res.Record,
		FeatureHash: res.FeatureHash,
		AffectedIDs: res.AffectedIDs,
		Changes:     res.Changes,
		StableIDs:   res.StableIDs,
	}
	if err := e.changeLog.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Error("change log append failed after snapshot write",
			"error", err,
			"seq", res.Seq,
			"record", res.Record.String(),
		)
		return fmt.Errorf("append event %d: %w: %w", res.Seq, model.ErrNeedsReconciliation, err)
	}
	return nil
}

// logEventError logs an event processing failure with full context.
func (e *Engine) logEventError(ev Event, err error) {
	attrs := []any{
		"error", err,
		"kind", string(ev.Kind),
		"record", ev.Record.ID.String(),
	}
	switch {
	case IsRejected(err):
		e.logger.Warn("event rejected", attrs...)
	case model.IsAliasCycle(err):
		e.logger.Error("alias cycle detected", attrs...)
	case IsNeedsReconciliation(err):
		e.logger.Error("event needs reconciliation", attrs...)
	default:
		e.logger.Error("event processing failed", attrs...)
	}
}
