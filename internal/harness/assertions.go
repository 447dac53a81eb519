package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// AssertionError reports a failed scenario assertion together with the
// decision trace that led up to it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s on %s: %s -> %s allowed=%t",
			ev.Step, ev.Effective, ev.EntityID, ev.From, ev.To, ev.Allowed)
		if ev.Reason != "" {
			fmt.Fprintf(&buf, " reason=%s", ev.Reason)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// AssertionContext provides engine access for evaluating assertions.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Scorer *scoring.Engine
	Gate   *gate.Gate
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions. The actx
// parameter provides store and engine access; every assertion type reads
// live state rather than the trace, so a scenario asserts what the store
// would tell production code after the flow.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string

	for i, assertion := range assertions {
		if actx == nil || actx.Store == nil {
			msgs = append(msgs, fmt.Sprintf("assertion[%d]: %s requires engine context", i, assertion.Type))
			continue
		}

		var err error
		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(actx, assertion, result.Trace)
		case AssertTransitionCount:
			err = assertTransitionCount(actx, assertion, result.Trace)
		case AssertScoreTier:
			err = assertScoreTier(actx, assertion, result.Trace)
		case AssertGate:
			err = assertGate(actx, assertion, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	return msgs
}

// assertFinalState checks an entity's live state after all steps.
func assertFinalState(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	ent, err := actx.Store.ReadEntity(actx.Ctx, a.Entity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("entity %s in state %s", a.Entity, a.State),
				Actual:   "entity not registered",
				Trace:    trace,
			}
		}
		return fmt.Errorf("final_state %s: %w", a.Entity, err)
	}

	if string(ent.CurrentState) != a.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s in state %s", a.Entity, a.State),
			Actual:   fmt.Sprintf("state %s", ent.CurrentState),
			Trace:    trace,
		}
	}

	return nil
}

// assertTransitionCount checks how many transition records an entity
// accrued. Rejected and replayed events accrue none, so the count pins
// the applied transitions exactly.
func assertTransitionCount(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	recs, err := actx.Store.ReadTransitions(actx.Ctx, a.Entity)
	if err != nil {
		return fmt.Errorf("transition_count %s: %w", a.Entity, err)
	}

	if len(recs) != a.Count {
		return &AssertionError{
			Type:     AssertTransitionCount,
			Expected: fmt.Sprintf("%d transitions for %s", a.Count, a.Entity),
			Actual:   fmt.Sprintf("%d transitions", len(recs)),
			Trace:    trace,
		}
	}

	return nil
}

// assertScoreTier checks an entity's composite score tier through the
// scoring engine's staleness-aware read, the same path preconditions use.
func assertScoreTier(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	if actx.Scorer == nil {
		return fmt.Errorf("score_tier %s: no scoring engine in context", a.Entity)
	}

	cs, err := actx.Scorer.Score(actx.Ctx, a.Entity)
	if err != nil {
		return fmt.Errorf("score_tier %s: %w", a.Entity, err)
	}

	if string(cs.Tier) != a.Tier {
		return &AssertionError{
			Type:     AssertScoreTier,
			Expected: fmt.Sprintf("entity %s in tier %s", a.Entity, a.Tier),
			Actual:   fmt.Sprintf("tier %s (score %.2f)", cs.Tier, cs.Score),
			Trace:    trace,
		}
	}

	return nil
}

// assertGate checks a company's slot-completion result. When the
// assertion lists missing slots the comparison is order-insensitive.
func assertGate(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	if actx.Gate == nil {
		return fmt.Errorf("gate %s: no gate in context", a.Company)
	}

	res, err := actx.Gate.CheckCompany(actx.Ctx, a.Company)
	if err != nil {
		return fmt.Errorf("gate %s: %w", a.Company, err)
	}

	if res.Passed != *a.Complete {
		return &AssertionError{
			Type:     AssertGate,
			Expected: fmt.Sprintf("company %s gate complete=%t", a.Company, *a.Complete),
			Actual:   fmt.Sprintf("complete=%t, missing %v", res.Passed, res.MissingSlots),
			Trace:    trace,
		}
	}

	if a.Missing != nil {
		want := append([]string(nil), a.Missing...)
		sort.Strings(want)
		got := append([]string(nil), res.MissingSlots...)
		sort.Strings(got)
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertGate,
				Expected: fmt.Sprintf("company %s missing slots %v", a.Company, want),
				Actual:   fmt.Sprintf("missing slots %v", got),
				Trace:    trace,
			}
		}
	}

	return nil
}
