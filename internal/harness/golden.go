package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// TraceSnapshot is the golden-file form of a scenario's decision trace.
// It serializes through canonical JSON so byte comparison is stable.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	RunToken     string       `json:"run_token,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap flattens the snapshot into map[string]any for
// funnel.MarshalCanonical. Optional fields appear only when set,
// mirroring the struct's omitempty tags, so goldens never carry
// noise keys.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		eventMap := map[string]any{
			"step":      ev.Step,
			"entity_id": ev.EntityID,
			"event":     ev.Event,
			"effective": ev.Effective,
			"from":      ev.From,
			"allowed":   ev.Allowed,
		}
		if ev.To != "" {
			eventMap["to"] = ev.To
		}
		if ev.Replayed {
			eventMap["replayed"] = true
		}
		if ev.Reason != "" {
			eventMap["reason"] = ev.Reason
		}
		if ev.Seq > 0 {
			eventMap["seq"] = ev.Seq
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.RunToken != "" {
		result["run_token"] = s.RunToken
	}
	return result
}

// compareGolden marshals the snapshot canonically and asserts it against
// testdata/golden/{name}.golden via goldie. Regenerate fixtures with
// go test ./internal/harness -update.
func compareGolden(t *testing.T, name string, snapshot TraceSnapshot) error {
	t.Helper()

	traceJSON, err := funnel.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}

// RunWithGolden executes the scenario and compares its trace against the
// golden file named after it. A golden diff means a decision the engine
// used to make has changed; the returned error covers execution problems
// only, mismatches fail t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	return compareGolden(t, scenario.Name, TraceSnapshot{
		ScenarioName: scenario.Name,
		RunToken:     scenario.RunToken,
		Trace:        result.Trace,
	})
}

// AssertGolden compares an already-obtained Result against a golden
// file, for callers that ran the scenario themselves.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	return compareGolden(t, scenarioName, TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	})
}
