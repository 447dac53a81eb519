// Package harness provides conformance testing for funnel definitions.
//
// The harness compiles a funnel definition, stages entities, pressure
// signals, and slot rosters in a fresh store, drives raw events through a
// real movement engine, and validates the resulting decision trace and
// final state. Scenarios are executable contract tests: the same engines
// that run in production run under the harness, with only the clock and
// the sweep run token replaced by deterministic doubles.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	defs: builtin            # or a directory of .cue definition files
//	run_token: fixed-token-1 # optional; pins sweep run IDs
//	entities:
//	  - id: contact-1
//	    kind: contact        # contact | company
//	    state: queued        # optional; defaults to the definition initial
//	signals:
//	  - entity: contact-1
//	    source: signal_stack
//	    weight: 45
//	    period_days: 30
//	    age: 360h            # optional; backdates the signal
//	slots:
//	  - company: company-1
//	    slot: decision_maker
//	    filled: true
//	steps:
//	  - event: { entity: contact-1, type: outreach.sent }
//	    advance: 1h          # optional; moves the clock before the step
//	    expect:
//	      allowed: true
//	      to: contacted
//	sweep: true              # optional; batch decay recompute after steps
//	assertions:
//	  - type: final_state
//	    entity: contact-1
//	    state: contacted
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - final_state: Verifies an entity's live state after all steps
//   - transition_count: Verifies how many transitions an entity accrued
//   - score_tier: Verifies an entity's composite score tier
//   - gate: Verifies a company's slot-completion result
//
// # Deterministic Testing
//
// All scenarios execute against a fixed wall-clock epoch and a fixed sweep
// run token so repeated runs produce byte-identical traces for golden
// snapshot comparison.
//
// The harness uses:
//   - A controllable wall clock (testutil.Clock) started at a fixed epoch
//   - A fixed run token (from scenario.run_token or the testutil default)
//   - In-memory SQLite storage (isolated per run)
//
// Event timestamps come from the harness clock, never from time.Now, so
// idempotency keys and cooldown arithmetic are reproducible.
//
// # Usage
//
// Load a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/handoff.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Execute it:
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
