package movement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// Drift is one inconsistency between the transition log and either the
// live entity state or the current definition.
type Drift struct {
	EntityID string `json:"entity_id"`
	Seq      int64  `json:"seq"`
	Detail   string `json:"detail"`
}

// VerifyReport summarizes a transition log audit.
type VerifyReport struct {
	Records  int     `json:"records"`
	Entities int     `json:"entities"`
	Drifts   []Drift `json:"drifts,omitempty"`
}

// Clean reports whether the audit found no drift.
func (r VerifyReport) Clean() bool { return len(r.Drifts) == 0 }

// Verify audits the whole transition log against the current definition
// and the live entity rows: every recorded edge must still exist in the
// table and land where the log says, per-entity records must chain
// (each from-state equals the previous to-state), seq must be strictly
// increasing across the log, and each entity's live state must equal its
// log tail.
//
// Drift is reported, never repaired. A changed definition showing up as
// edge drift is expected after a config migration; chain or tail drift
// points at writes that bypassed the engine.
func (e *Engine) Verify(ctx context.Context) (VerifyReport, error) {
	recs, err := e.store.ReadAllTransitions(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}

	report := VerifyReport{Records: len(recs)}

	for i := 1; i < len(recs); i++ {
		if recs[i].Seq <= recs[i-1].Seq {
			report.Drifts = append(report.Drifts, Drift{
				EntityID: recs[i].EntityID,
				Seq:      recs[i].Seq,
				Detail:   fmt.Sprintf("seq %d not above predecessor %d", recs[i].Seq, recs[i-1].Seq),
			})
		}
	}

	byEntity := make(map[string][]funnel.TransitionRecord)
	var order []string
	for _, rec := range recs {
		if _, ok := byEntity[rec.EntityID]; !ok {
			order = append(order, rec.EntityID)
		}
		byEntity[rec.EntityID] = append(byEntity[rec.EntityID], rec)
	}
	sort.Strings(order)
	report.Entities = len(order)

	for _, id := range order {
		chain := byEntity[id]
		for i, rec := range chain {
			lookup := e.def.Transition(rec.FromState, rec.EffectiveEvent)
			switch {
			case !lookup.Allowed:
				report.Drifts = append(report.Drifts, Drift{
					EntityID: id,
					Seq:      rec.Seq,
					Detail:   fmt.Sprintf("recorded edge %s on %s no longer in table (%s)", rec.FromState, rec.EffectiveEvent, lookup.Reason),
				})
			case lookup.Next != rec.ToState:
				report.Drifts = append(report.Drifts, Drift{
					EntityID: id,
					Seq:      rec.Seq,
					Detail:   fmt.Sprintf("table sends %s on %s to %s, log recorded %s", rec.FromState, rec.EffectiveEvent, lookup.Next, rec.ToState),
				})
			}

			if i > 0 && chain[i-1].ToState != rec.FromState {
				report.Drifts = append(report.Drifts, Drift{
					EntityID: id,
					Seq:      rec.Seq,
					Detail:   fmt.Sprintf("chain break: previous record left %s, this one starts from %s", chain[i-1].ToState, rec.FromState),
				})
			}
		}

		entity, err := e.store.ReadEntity(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				report.Drifts = append(report.Drifts, Drift{
					EntityID: id,
					Seq:      chain[0].Seq,
					Detail:   "transitions recorded for unregistered entity",
				})
				continue
			}
			return report, fmt.Errorf("verify %s: %w", id, err)
		}

		tail := chain[len(chain)-1]
		if entity.CurrentState != tail.ToState {
			report.Drifts = append(report.Drifts, Drift{
				EntityID: id,
				Seq:      tail.Seq,
				Detail:   fmt.Sprintf("live state %s does not match log tail %s", entity.CurrentState, tail.ToState),
			})
		}
	}

	slog.Info("verify complete",
		"records", report.Records,
		"entities", report.Entities,
		"drifts", len(report.Drifts))
	return report, nil
}
