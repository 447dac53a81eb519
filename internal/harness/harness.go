package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/compiler"
	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/movement"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
	"github.com/djb258/barton-outreach-core-sub008/internal/testutil"
)

// scenarioEpoch is the fixed wall-clock start of every scenario. Signal
// ages and step advances are all relative to it, so traces never depend
// on the machine clock.
var scenarioEpoch = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

// Harness executes one scenario against real engines.
// The clock and the sweep run token are the only doubles: storage,
// movement, scoring, and the gate are the production implementations.
type Harness struct {
	store  *store.Store
	def    *funnel.Definition
	scorer *scoring.Engine
	gate   *gate.Gate
	mover  *movement.Engine
	clock  *testutil.Clock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Compile the funnel definition (builtin or CUE directory)
//  3. Stage entities, signals, and slots
//  4. Process steps through the movement engine, checking expects
//  5. Evaluate assertions against the final store state
//
// Step expect mismatches and assertion failures land in the result's
// Errors; the error return is for staging and engine failures.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	def, err := resolveDefinition(scenario.Defs)
	if err != nil {
		return nil, err
	}

	// Deterministic doubles: frozen clock, fixed sweep run token
	clock := testutil.NewClock(scenarioEpoch)
	tokens := testutil.NewFixedTokenGenerator(scenario.RunToken)

	scorer := scoring.New(st, def,
		scoring.WithClock(clock.Now),
		scoring.WithRunTokens(tokens.Token),
	)
	g := gate.New(st, def)
	mover := movement.New(st, def, rules.NewKeywordClassifier(), scorer, g,
		movement.WithWallClock(clock.Now),
	)

	h := &Harness{
		store:  st,
		def:    def,
		scorer: scorer,
		gate:   g,
		mover:  mover,
		clock:  clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()

	if err := h.stage(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to stage scenario: %w", err)
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	if scenario.Sweep {
		report, err := scorer.Sweep(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to sweep: %w", err)
		}
		result.SweepRunID = report.RunID
		for _, id := range report.FailedIDs {
			result.AddError(fmt.Sprintf("sweep: recompute failed for %s", id))
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Scorer: scorer,
		Gate:   g,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// resolveDefinition compiles the scenario's funnel definition.
func resolveDefinition(defs string) (*funnel.Definition, error) {
	if defs == "" || defs == DefsBuiltin {
		return funnel.DefaultDefinition(), nil
	}
	def, err := compiler.LoadDir(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definitions from %s: %w", defs, err)
	}
	return def, nil
}

// stage registers entities and writes signals and slot rows.
//
// Signals go through the real scoring engine so composite rows exist the
// way production leaves them; backdated CreatedAt values stage decayed
// contributions. Slot rows are written directly: fill pipelines live
// outside this subsystem and the gate only ever reads.
func (h *Harness) stage(ctx context.Context, scenario *Scenario) error {
	for i, e := range scenario.Entities {
		state := h.def.InitialState()
		if e.State != "" {
			state = funnel.State(e.State)
			if !h.def.HasState(state) {
				return fmt.Errorf("entities[%d]: definition %q has no state %q", i, h.def.Name(), e.State)
			}
		}

		ent := funnel.Entity{
			ID:           e.ID,
			Kind:         funnel.EntityKind(e.Kind),
			CurrentState: state,
			UpdatedAt:    h.clock.Now(),
		}
		if _, err := h.store.RegisterEntity(ctx, ent); err != nil {
			return fmt.Errorf("entities[%d]: register %s: %w", i, e.ID, err)
		}
		h.logger.Info("entity staged", "entity_id", e.ID, "kind", e.Kind, "state", state)
	}

	for i, sig := range scenario.Signals {
		createdAt := scenarioEpoch
		if sig.Age != "" {
			age, err := time.ParseDuration(sig.Age)
			if err != nil {
				return fmt.Errorf("signals[%d]: bad age %q: %w", i, sig.Age, err)
			}
			createdAt = scenarioEpoch.Add(-age)
		}

		_, err := h.scorer.RecordSignal(ctx, funnel.PressureSignal{
			EntityID:        sig.Entity,
			Source:          sig.Source,
			ImpactWeight:    sig.Weight,
			DecayPeriodDays: sig.PeriodDays,
			CreatedAt:       createdAt,
		})
		if err != nil {
			return fmt.Errorf("signals[%d]: record for %s: %w", i, sig.Entity, err)
		}
	}

	for i, slot := range scenario.Slots {
		row := funnel.SlotRequirement{
			CompanyID: slot.Company,
			SlotName:  slot.Slot,
			Filled:    slot.Filled,
		}
		if slot.Filled {
			at := h.clock.Now()
			row.FilledAt = &at
		}
		if err := h.store.SetSlot(ctx, row); err != nil {
			return fmt.Errorf("slots[%d]: set %s/%s: %w", i, slot.Company, slot.Slot, err)
		}
	}

	return nil
}

// executeSteps pushes each step's raw event through the movement engine
// and checks expect clauses against the real decision.
//
// Engine errors (unknown entity, store failure) abort the run: they mean
// the scenario itself is broken, not that the funnel rejected an event.
// Rejections come back inside decisions and are legitimate outcomes for
// a step to expect.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("step %d: bad advance %q: %w", i+1, step.Advance, err)
			}
			h.clock.Advance(d)
		}

		raw := movement.RawEvent{
			EntityID:   step.Event.Entity,
			Type:       step.Event.Type,
			OccurredAt: h.clock.Now(),
			Metadata:   step.Event.Metadata,
		}

		decision, err := h.mover.ProcessEvent(ctx, raw)
		if err != nil {
			return fmt.Errorf("step %d: process %s on %s: %w", i+1, step.Event.Type, step.Event.Entity, err)
		}

		result.AddDecision(i+1, decision)

		for _, msg := range expectErrors(i+1, step, decision) {
			result.AddError(msg)
		}

		h.logger.Info("step completed",
			"step", i+1,
			"entity_id", decision.EntityID,
			"event", decision.EffectiveEvent,
			"allowed", decision.Allowed,
			"seq", decision.Seq,
		)
	}

	return nil
}

// expectErrors compares a decision against a step's expect clause.
// Only set fields are checked; each mismatch produces one message.
func expectErrors(step int, s Step, d funnel.TransitionDecision) []string {
	if s.Expect == nil {
		return nil
	}

	prefix := fmt.Sprintf("step %d (%s on %s)", step, s.Event.Type, s.Event.Entity)
	var msgs []string

	if s.Expect.Allowed != nil && d.Allowed != *s.Expect.Allowed {
		if d.Allowed {
			msgs = append(msgs, fmt.Sprintf("%s: expected allowed=false, got allowed=true to %s", prefix, d.To))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: expected allowed=true, got allowed=false (reason %s: %s)", prefix, d.Reason, d.Rationale))
		}
	}
	if s.Expect.To != "" && string(d.To) != s.Expect.To {
		msgs = append(msgs, fmt.Sprintf("%s: expected to=%s, got %q", prefix, s.Expect.To, d.To))
	}
	if s.Expect.Effective != "" && string(d.EffectiveEvent) != s.Expect.Effective {
		msgs = append(msgs, fmt.Sprintf("%s: expected effective=%s, got %q", prefix, s.Expect.Effective, d.EffectiveEvent))
	}
	if s.Expect.Reason != "" && string(d.Reason) != s.Expect.Reason {
		msgs = append(msgs, fmt.Sprintf("%s: expected reason=%s, got %q", prefix, s.Expect.Reason, d.Reason))
	}
	if s.Expect.Replayed != nil && d.Replayed != *s.Expect.Replayed {
		msgs = append(msgs, fmt.Sprintf("%s: expected replayed=%t, got %t", prefix, *s.Expect.Replayed, d.Replayed))
	}

	return msgs
}
