package harness

import (
	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/model"
)

// TraceEvent is one flow step as seen in the trace.
// Error is set, and Seq and Changes are empty, when the step failed.
type TraceEvent struct {
	Seq     int64           `json:"seq,omitempty"`
	Kind    model.EventKind `json:"kind"`
	Record  model.RecordID  `json:"record"`
	Error   string          `json:"error,omitempty"`
	Changes []TraceChange   `json:"changes"`
}

// TraceChange is the classification of one entity id within an event,
// with the stable id it was assigned, if any.
type TraceChange struct {
	EntityID model.EntityID   `json:"entity_id"`
	Status   model.Status     `json:"status"`
	Pre      []model.RecordID `json:"pre"`
	Post     []model.RecordID `json:"post"`
	Next     []model.EntityID `json:"next"`
	Deleted  []model.RecordID `json:"deleted"`
	StableID model.StableID   `json:"stable_id,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one entry per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEventTrace appends a processed event to the trace.
func (r *Result) AddEventTrace(res *engine.EventResult) {
	changes := make([]TraceChange, 0, len(res.Changes))
	for _, c := range res.Changes {
		changes = append(changes, TraceChange{
			EntityID: c.EntityID,
			Status:   c.Status,
			Pre:      c.PreRecords,
			Post:     c.PostRecords,
			Next:     c.NextEntities,
			Deleted:  c.DeletedRecords,
			StableID: res.StableIDs[c.EntityID],
		})
	}
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     res.Seq,
		Kind:    res.Kind,
		Record:  res.Record,
		Changes: changes,
	})
}

// AddErrorTrace appends a failed step to the trace.
func (r *Result) AddErrorTrace(kind model.EventKind, record model.RecordID, code string) {
	r.Trace = append(r.Trace, TraceEvent{
		Kind:    kind,
		Record:  record,
		Error:   code,
		Changes: []TraceChange{},
	})
}
