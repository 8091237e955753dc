package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/stableid/internal/classifier"
	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/model"
)

// eventView renders one processed event.
type eventView struct {
	*engine.EventResult
}

func (v eventView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", v.Seq, v.Kind, v.Record)
	writeChanges(&b, v.Changes, v.StableIDs)
	for _, ie := range v.Interesting {
		fmt.Fprintf(&b, "\n  related entity=%d degrees=%d", ie.EntityID, ie.Degrees)
	}
	return b.String()
}

func writeChanges(b *strings.Builder, changes []model.EntityChangeSummary, stableIDs map[model.EntityID]model.StableID) {
	if len(changes) == 0 {
		b.WriteString("\n  no entities affected")
		return
	}
	for _, c := range changes {
		fmt.Fprintf(b, "\n  %s", classifier.String(c))
		if sid, ok := stableIDs[c.EntityID]; ok {
			fmt.Fprintf(b, " stable=%s", sid)
		}
	}
}

// RejectedRecord is a record the load command skipped.
type RejectedRecord struct {
	Record  model.RecordID `json:"record"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
}

// LoadSummary is the output of the load command.
type LoadSummary struct {
	Processed int                   `json:"processed"`
	Rejected  []RejectedRecord      `json:"rejected"`
	Events    []*engine.EventResult `json:"events"`
}

func (s LoadSummary) String() string {
	var b strings.Builder
	for _, ev := range s.Events {
		b.WriteString(eventView{ev}.String())
		b.WriteByte('\n')
	}
	for _, r := range s.Rejected {
		fmt.Fprintf(&b, "rejected %s [%s]: %s\n", r.Record, r.Code, r.Message)
	}
	fmt.Fprintf(&b, "%d records processed, %d rejected", s.Processed, len(s.Rejected))
	return b.String()
}

// ResolveView describes a stable id.
type ResolveView struct {
	StableID  model.StableID   `json:"stable_id"`
	Canonical model.StableID   `json:"canonical"`
	Chain     []model.StableID `json:"chain"`
	Aliases   []model.StableID `json:"aliases"`
	EntityIDs []model.EntityID `json:"entity_ids"`
}

func (v ResolveView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stable id:  %s\n", v.StableID)
	fmt.Fprintf(&b, "canonical:  %s\n", v.Canonical)
	fmt.Fprintf(&b, "chain:      %s\n", joinIDs(v.Chain, " -> "))
	fmt.Fprintf(&b, "aliases:    %s\n", joinIDs(v.Aliases, ", "))
	fmt.Fprintf(&b, "entity ids: %v", v.EntityIDs)
	return b.String()
}

func joinIDs(ids []model.StableID, sep string) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, sep)
}

// snapshotView renders an entity snapshot.
type snapshotView struct {
	model.Snapshot
}

func (v snapshotView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entity %d exists=%v records=%d", v.EntityID, v.Exists, len(v.Records))
	for _, r := range v.Records {
		fmt.Fprintf(&b, "\n  %s", r)
	}
	return b.String()
}

// HistoryView is a page of the change log.
type HistoryView struct {
	Events []model.EventRecord `json:"events"`
}

func (v HistoryView) String() string {
	if len(v.Events) == 0 {
		return "no events"
	}
	var b strings.Builder
	for i, ev := range v.Events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s %s", ev.Seq, ev.Kind, ev.Record)
		if ev.FeatureHash != "" {
			fmt.Fprintf(&b, " hash=%.12s", ev.FeatureHash)
		}
		writeChanges(&b, ev.Changes, ev.StableIDs)
	}
	return b.String()
}
