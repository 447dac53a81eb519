package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefsBuiltin selects the stock funnel definition instead of a CUE
// directory.
const DefsBuiltin = "builtin"

// Scenario defines a conformance test scenario.
// Scenarios stage funnel state, drive raw events through the movement
// engine, and assert on the resulting decision trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Defs selects the funnel definition: "builtin" (the default when
	// empty) or a directory of .cue definition files. Relative paths are
	// resolved against the scenario file location.
	Defs string `yaml:"defs,omitempty"`

	// RunToken is an optional fixed sweep run token for deterministic
	// tests. If empty, the testutil default token is used so golden file
	// comparison stays stable. Production runs mint UUIDv7 tokens.
	RunToken string `yaml:"run_token,omitempty"`

	// Entities lists the funnel entities to register before the steps.
	Entities []EntitySpec `yaml:"entities"`

	// Signals lists pressure signals to record before the steps.
	// These establish score tiers (e.g. staging a WARM contact).
	Signals []SignalSpec `yaml:"signals,omitempty"`

	// Slots lists slot-roster rows to stage before the steps.
	// These establish gate completion for companies.
	Slots []SlotSpec `yaml:"slots,omitempty"`

	// Steps contains the main test flow: raw events with expected
	// decisions. Each step can pin the expected outcome.
	Steps []Step `yaml:"steps"`

	// Sweep runs a full decay recompute after the steps and before the
	// assertions, the way the nightly batch job would. The sweep's run
	// ID is the scenario run token.
	Sweep bool `yaml:"sweep,omitempty"`

	// Assertions validate the final store state after all steps.
	// Supported types: final_state, transition_count, score_tier, gate.
	Assertions []Assertion `yaml:"assertions"`
}

// EntitySpec registers one entity before the flow runs.
type EntitySpec struct {
	// ID is the entity identifier referenced by signals and steps.
	ID string `yaml:"id"`

	// Kind is "contact" or "company".
	Kind string `yaml:"kind"`

	// State is the starting state. Empty means the definition's initial
	// state. Must name a state the compiled definition declares.
	State string `yaml:"state,omitempty"`
}

// SignalSpec records one pressure signal before the flow runs.
type SignalSpec struct {
	// Entity is the entity the signal attaches to.
	Entity string `yaml:"entity"`

	// Source labels where the signal came from (e.g. "signal_stack").
	Source string `yaml:"source"`

	// Weight is the signal's impact weight. Negative weights are valid.
	Weight float64 `yaml:"weight"`

	// PeriodDays is the linear decay period in days. Must be positive.
	PeriodDays int `yaml:"period_days"`

	// Age backdates the signal relative to the scenario epoch
	// (time.ParseDuration syntax, e.g. "360h"). Empty means a fresh
	// signal created at the epoch.
	Age string `yaml:"age,omitempty"`
}

// SlotSpec stages one slot-roster row before the flow runs.
// Slot rows are normally written by fill pipelines outside this
// subsystem; the harness writes them directly.
type SlotSpec struct {
	// Company is the company the slot belongs to.
	Company string `yaml:"company"`

	// Slot is the slot name (must match the definition's required slots
	// for the gate to consider it).
	Slot string `yaml:"slot"`

	// Filled marks the slot as filled. Unfilled rows are valid stages:
	// they make a slot visibly open rather than merely absent.
	Filled bool `yaml:"filled,omitempty"`
}

// Step is one raw event pushed through the movement engine.
type Step struct {
	// Event is the raw event to process.
	Event EventSpec `yaml:"event"`

	// Advance moves the harness clock forward before the event is
	// detected (time.ParseDuration syntax). Empty means no movement, so
	// consecutive steps share a timestamp and identical events replay.
	Advance string `yaml:"advance,omitempty"`

	// Expect pins the expected decision. If nil, the step only has to
	// execute without an engine error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// EventSpec is the raw event payload for a step. The occurred-at
// timestamp always comes from the harness clock.
type EventSpec struct {
	// Entity is the entity the event belongs to.
	Entity string `yaml:"entity"`

	// Type is the raw event type. Aliases ("reply", "enriched") are
	// accepted and normalized exactly as in production.
	Type string `yaml:"type"`

	// Metadata carries side-channel fields: "body" for reply
	// classification, "sources" and "verified_filing" for talent-flow
	// corroboration.
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// ExpectClause pins fields of the decision a step must produce.
// Only set fields are checked.
type ExpectClause struct {
	// Allowed is the expected admission outcome.
	Allowed *bool `yaml:"allowed,omitempty"`

	// To is the expected destination state (allowed decisions only).
	To string `yaml:"to,omitempty"`

	// Effective is the expected effective event after classification.
	Effective string `yaml:"effective,omitempty"`

	// Reason is the expected reject reason code.
	Reason string `yaml:"reason,omitempty"`

	// Replayed is the expected replay flag.
	Replayed *bool `yaml:"replayed,omitempty"`
}

// Assertion validates final store state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": entity's live state equals State
	// - "transition_count": entity accrued exactly Count transitions
	// - "score_tier": entity's composite tier equals Tier
	// - "gate": company's slot gate matches Complete (and Missing)
	Type string `yaml:"type"`

	// Entity is the entity ID (final_state, transition_count, score_tier).
	Entity string `yaml:"entity,omitempty"`

	// State is the expected live state (final_state).
	State string `yaml:"state,omitempty"`

	// Count is the expected number of transition records
	// (transition_count). Zero asserts an untouched log.
	Count int `yaml:"count,omitempty"`

	// Tier is the expected score tier (score_tier).
	Tier string `yaml:"tier,omitempty"`

	// Company is the company ID (gate).
	Company string `yaml:"company,omitempty"`

	// Complete is the expected gate outcome (gate).
	Complete *bool `yaml:"complete,omitempty"`

	// Missing is the expected set of open slots (gate, optional).
	// Order-insensitive.
	Missing []string `yaml:"missing,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState      = "final_state"
	AssertTransitionCount = "transition_count"
	AssertScoreTier       = "score_tier"
	AssertGate            = "gate"
)

// LoadScenario reads and parses a scenario YAML file. A relative defs
// directory is resolved against the scenario file's location. Returns an
// error if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the defs directory relative to the scenario file BEFORE validation
	if scenario.Defs != "" && scenario.Defs != DefsBuiltin && !filepath.IsAbs(scenario.Defs) {
		scenario.Defs = filepath.Join(filepath.Dir(path), scenario.Defs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Defs != "" && s.Defs != DefsBuiltin {
		info, err := os.Stat(s.Defs)
		if os.IsNotExist(err) {
			return fmt.Errorf("defs directory not found: %s", s.Defs)
		}
		if err == nil && !info.IsDir() {
			return fmt.Errorf("defs must be %q or a directory, got file: %s", DefsBuiltin, s.Defs)
		}
	}

	if len(s.Entities) == 0 {
		return fmt.Errorf("entities list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Entities))
	for i, e := range s.Entities {
		if e.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("entities[%d]: duplicate entity id %q", i, e.ID)
		}
		seen[e.ID] = true
		if e.Kind != "contact" && e.Kind != "company" {
			return fmt.Errorf("entities[%d]: kind must be \"contact\" or \"company\", got %q", i, e.Kind)
		}
	}

	for i, sig := range s.Signals {
		if sig.Entity == "" {
			return fmt.Errorf("signals[%d]: entity is required", i)
		}
		if !seen[sig.Entity] {
			return fmt.Errorf("signals[%d]: unknown entity %q", i, sig.Entity)
		}
		if sig.Source == "" {
			return fmt.Errorf("signals[%d]: source is required", i)
		}
		if sig.PeriodDays <= 0 {
			return fmt.Errorf("signals[%d]: period_days must be positive, got %d", i, sig.PeriodDays)
		}
		if sig.Age != "" {
			if _, err := time.ParseDuration(sig.Age); err != nil {
				return fmt.Errorf("signals[%d]: bad age %q: %w", i, sig.Age, err)
			}
		}
	}

	for i, slot := range s.Slots {
		if slot.Company == "" {
			return fmt.Errorf("slots[%d]: company is required", i)
		}
		if slot.Slot == "" {
			return fmt.Errorf("slots[%d]: slot is required", i)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Event.Entity == "" {
			return fmt.Errorf("steps[%d]: event.entity is required", i)
		}
		if !seen[step.Event.Entity] {
			return fmt.Errorf("steps[%d]: unknown entity %q", i, step.Event.Entity)
		}
		if step.Event.Type == "" {
			return fmt.Errorf("steps[%d]: event.type is required", i)
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: bad advance %q: %w", i, step.Advance, err)
			}
		}
		if step.Expect != nil && expectClauseEmpty(step.Expect) {
			return fmt.Errorf("steps[%d].expect: at least one field is required", i)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func expectClauseEmpty(e *ExpectClause) bool {
	return e.Allowed == nil && e.To == "" && e.Effective == "" &&
		e.Reason == "" && e.Replayed == nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertTransitionCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for transition_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for transition_count", index)
		}
	case AssertScoreTier:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for score_tier", index)
		}
		if a.Tier == "" {
			return fmt.Errorf("assertions[%d]: tier is required for score_tier", index)
		}
	case AssertGate:
		if a.Company == "" {
			return fmt.Errorf("assertions[%d]: company is required for gate", index)
		}
		if a.Complete == nil {
			return fmt.Errorf("assertions[%d]: complete is required for gate", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
