package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stableid/internal/model"
)

// TraceSnapshot captures the trace of one scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toCanonicalMap converts the snapshot to the value types
// model.MarshalCanonical accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"kind":   string(ev.Kind),
			"record": ev.Record.String(),
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		} else {
			m["seq"] = ev.Seq
			changes := make([]any, len(ev.Changes))
			for j, c := range ev.Changes {
				cm := map[string]any{
					"entity_id": int64(c.EntityID),
					"status":    c.Status.String(),
					"pre":       recordList(c.Pre),
					"post":      recordList(c.Post),
					"next":      entityList(c.Next),
					"deleted":   recordList(c.Deleted),
				}
				if c.StableID != "" {
					cm["stable_id"] = string(c.StableID)
				}
				changes[j] = cm
			}
			m["changes"] = changes
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario": s.ScenarioName,
		"trace":    trace,
	}
}

func recordList(ids []model.RecordID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func entityList(ids []model.EntityID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// MarshalTrace renders a trace as canonical JSON.
func MarshalTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
	return model.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden. It fails the test if any
// expectation or assertion did not hold.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) error {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
