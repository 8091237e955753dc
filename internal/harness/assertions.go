package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/stableid/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// checkAssertion evaluates one assertion against the final state.
// A nil return means the assertion held.
func (h *Harness) checkAssertion(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertResolvesTo:
		return h.assertResolvesTo(ctx, a)
	case AssertAliases:
		return h.assertAliases(ctx, a)
	case AssertSnapshot:
		return h.assertSnapshot(ctx, a)
	case AssertEventCount:
		return h.assertEventCount(ctx, a)
	case AssertStatusCount:
		return assertStatusCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertResolvesTo(ctx context.Context, a Assertion) error {
	canonical, ids, err := h.resolver.Resolve(ctx, a.StableID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.StableID, err)
	}
	if canonical != a.Canonical {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s -> %s", a.StableID, a.Canonical),
			Actual:   fmt.Sprintf("%s -> %s", a.StableID, canonical),
		}
	}
	if a.EntityIDs != nil && !slices.Equal(ids, model.SortEntityIDs(slices.Clone(a.EntityIDs))) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s entity ids %v", a.Canonical, a.EntityIDs),
			Actual:   fmt.Sprintf("%v", ids),
		}
	}
	return nil
}

func (h *Harness) assertAliases(ctx context.Context, a Assertion) error {
	aliases, err := h.resolver.Aliases(ctx, a.Canonical)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.Canonical, err)
	}
	want := slices.Clone(a.Aliases)
	slices.Sort(want)
	if want == nil {
		want = []model.StableID{}
	}
	if !slices.Equal(aliases, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s aliases %v", a.Canonical, want),
			Actual:   fmt.Sprintf("%v", aliases),
		}
	}
	return nil
}

func (h *Harness) assertSnapshot(ctx context.Context, a Assertion) error {
	snap, err := h.store.GetSnapshot(ctx, a.EntityID)
	if err != nil {
		return fmt.Errorf("%s %d: %w", a.Type, a.EntityID, err)
	}
	if snap.Exists != *a.Exists {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entity %d exists=%v", a.EntityID, *a.Exists),
			Actual:   fmt.Sprintf("exists=%v", snap.Exists),
		}
	}
	if a.Records == nil {
		return nil
	}
	got := make([]string, 0, len(snap.Records))
	for _, r := range model.SortRecordIDs(slices.Clone(snap.Records)) {
		got = append(got, r.String())
	}
	want := slices.Clone(a.Records)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entity %d records [%s]", a.EntityID, strings.Join(want, " ")),
			Actual:   fmt.Sprintf("[%s]", strings.Join(got, " ")),
		}
	}
	return nil
}

func (h *Harness) assertEventCount(ctx context.Context, a Assertion) error {
	events, err := h.store.ReadEvents(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type, err)
	}
	if len(events) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d events", *a.Count),
			Actual:   fmt.Sprintf("%d", len(events)),
		}
	}
	return nil
}

// assertStatusCount counts entity changes with the given status across the
// whole trace.
func assertStatusCount(trace []TraceEvent, a Assertion) error {
	status, err := model.ParseStatus(a.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type, err)
	}
	n := 0
	for _, ev := range trace {
		for _, c := range ev.Changes {
			if c.Status == status {
				n++
			}
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", *a.Count, a.Status),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func sortedKeys[V any](m map[model.EntityID]V) []model.EntityID {
	return model.SortEntityIDs(slices.Collect(maps.Keys(m)))
}
