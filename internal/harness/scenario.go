package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stableid/internal/model"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MatchKeys overrides the resolution engine's match keys.
	// Empty means the engine defaults.
	MatchKeys []string `yaml:"match_keys,omitempty"`

	// Flow contains the events to apply, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final stable identity state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one ingestion event. Exactly one of Add and Delete is set.
type Step struct {
	Add    *RecordStep `yaml:"add,omitempty"`
	Delete *RecordStep `yaml:"delete,omitempty"`

	// Expect is checked against the event result. Nil skips validation.
	Expect *Expect `yaml:"expect,omitempty"`
}

// RecordStep names a record and, for additions, its features.
type RecordStep struct {
	DataSource string         `yaml:"data_source"`
	RecordID   string         `yaml:"record_id"`
	Features   map[string]any `yaml:"features,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected error code. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Statuses maps entity ids to expected status names (e.g. "MERGE_INTO").
	// Subset match: unlisted entities are not checked.
	Statuses map[model.EntityID]string `yaml:"statuses,omitempty"`

	// StableIDs maps entity ids to the stable id the event assigned them.
	StableIDs map[model.EntityID]model.StableID `yaml:"stable_ids,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// StableID is the id under test (resolves_to).
	StableID model.StableID `yaml:"stable_id,omitempty"`

	// Canonical is the expected canonical id (resolves_to, aliases).
	Canonical model.StableID `yaml:"canonical,omitempty"`

	// EntityIDs are the expected entity ids bound to the canonical id.
	EntityIDs []model.EntityID `yaml:"entity_ids,omitempty"`

	// Aliases is the expected alias set (aliases).
	Aliases []model.StableID `yaml:"aliases,omitempty"`

	// EntityID selects the snapshot (snapshot).
	EntityID model.EntityID `yaml:"entity_id,omitempty"`

	// Exists is the expected snapshot existence (snapshot).
	Exists *bool `yaml:"exists,omitempty"`

	// Records are the expected snapshot records as DATA_SOURCE/key.
	Records []string `yaml:"records,omitempty"`

	// Status is the status counted by status_count.
	Status string `yaml:"status,omitempty"`

	// Count is the expected count (event_count, status_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertResolvesTo  = "resolves_to"
	AssertAliases     = "aliases"
	AssertSnapshot    = "snapshot"
	AssertEventCount  = "event_count"
	AssertStatusCount = "status_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and value ranges.
func validateScenario(s *Scenario) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must contain at least one step")
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	var rec *RecordStep
	switch {
	case step.Add != nil && step.Delete != nil:
		return fmt.Errorf("step must have exactly one of add or delete")
	case step.Add != nil:
		rec = step.Add
	case step.Delete != nil:
		rec = step.Delete
		if len(rec.Features) > 0 {
			return fmt.Errorf("delete does not take features")
		}
	default:
		return fmt.Errorf("step must have exactly one of add or delete")
	}
	if rec.DataSource == "" || rec.RecordID == "" {
		return fmt.Errorf("data_source and record_id are required")
	}
	if step.Expect == nil {
		return nil
	}
	if step.Expect.Error != "" && (len(step.Expect.Statuses) > 0 || len(step.Expect.StableIDs) > 0) {
		return fmt.Errorf("expect.error cannot be combined with statuses or stable_ids")
	}
	for id, name := range step.Expect.Statuses {
		if _, err := model.ParseStatus(name); err != nil {
			return fmt.Errorf("expect.statuses[%d]: %w", id, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertResolvesTo:
		if a.StableID == "" || a.Canonical == "" {
			return fmt.Errorf("%s requires stable_id and canonical", a.Type)
		}
	case AssertAliases:
		if a.Canonical == "" {
			return fmt.Errorf("%s requires canonical", a.Type)
		}
	case AssertSnapshot:
		if a.EntityID <= 0 {
			return fmt.Errorf("%s requires a positive entity_id", a.Type)
		}
		if a.Exists == nil {
			return fmt.Errorf("%s requires exists", a.Type)
		}
	case AssertEventCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("%s requires a non-negative count", a.Type)
		}
	case AssertStatusCount:
		if _, err := model.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("%s requires a non-negative count", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
