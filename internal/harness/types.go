package harness

import "github.com/djb258/barton-outreach-core-sub008/internal/funnel"

// TraceEvent is one movement decision in the scenario trace. Fields are
// plain strings so the trace serializes without funnel type knowledge;
// identity hashes (event keys) are not part of the trace, which keeps
// golden files readable and stable under key-derivation changes.
type TraceEvent struct {
	Step      int    `json:"step"` // 1-indexed scenario step
	EntityID  string `json:"entity_id"`
	Event     string `json:"event"`
	Effective string `json:"effective"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Allowed   bool   `json:"allowed"`
	Replayed  bool   `json:"replayed,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if all expect clauses and assertions hold.
	Pass bool `json:"pass"`

	// Trace contains one decision per step in execution order.
	// Used for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expect and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// SweepRunID is the run ID of the post-flow sweep, when the
	// scenario requested one. Matches the scenario run token.
	SweepRunID string `json:"sweep_run_id,omitempty"`
}

// NewResult starts a passing result; scenario steps flip it on failure.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddDecision appends a movement decision to the trace. Step numbers are
// 1-indexed to match scenario authoring.
func (r *Result) AddDecision(step int, d funnel.TransitionDecision) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		EntityID:  d.EntityID,
		Event:     string(d.Event),
		Effective: string(d.EffectiveEvent),
		From:      string(d.From),
		To:        string(d.To),
		Allowed:   d.Allowed,
		Replayed:  d.Replayed,
		Reason:    string(d.Reason),
		Seq:       d.Seq,
	})
}
