// Package gate implements the slot completion check for companies.
// The gate is read-only: it inspects slot-fill rows written by external
// pipelines and never mutates funnel state.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/metrics"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// EvaluationError reports an unpassed gate to callers that treat it as an
// error path. CheckCompany itself returns a GateResult; Require converts
// an unpassed result into this error.
type EvaluationError struct {
	CompanyID    string
	MissingSlots []string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("slot completion gate not passed for %q: missing %s",
		e.CompanyID, strings.Join(e.MissingSlots, ", "))
}

// IsEvaluationError reports whether err is (or wraps) an EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}

// Gate checks required slot coverage against a funnel definition.
type Gate struct {
	store *store.Store
	def   *funnel.Definition
}

// New returns a gate reading slot rows from s for def's required slots.
func New(s *store.Store, def *funnel.Definition) *Gate {
	return &Gate{store: s, def: def}
}

// CheckCompany reports whether every required slot has a filled row for the
// company. MissingSlots is sorted and empty when Passed. Unfilled rows and
// absent rows count the same: the slot is missing.
func (g *Gate) CheckCompany(ctx context.Context, companyID string) (funnel.GateResult, error) {
	required := g.def.RequiredSlots()
	if len(required) == 0 {
		metrics.GateChecks.WithLabelValues("passed").Inc()
		return funnel.GateResult{Passed: true, MissingSlots: []string{}}, nil
	}

	entity, err := g.store.ReadEntity(ctx, companyID)
	if err != nil {
		return funnel.GateResult{}, fmt.Errorf("gate check: %w", err)
	}
	if entity.Kind != funnel.KindCompany {
		return funnel.GateResult{}, fmt.Errorf("gate check: entity %q is %s, not a company", companyID, entity.Kind)
	}

	slots, err := g.store.ReadSlots(ctx, companyID)
	if err != nil {
		return funnel.GateResult{}, fmt.Errorf("gate check: %w", err)
	}

	filled := make(map[string]bool, len(slots))
	for _, slot := range slots {
		if slot.Filled {
			filled[slot.SlotName] = true
		}
	}

	var missing []string
	for _, name := range required {
		if !filled[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		metrics.GateChecks.WithLabelValues("missing").Inc()
		return funnel.GateResult{Passed: false, MissingSlots: missing}, nil
	}
	metrics.GateChecks.WithLabelValues("passed").Inc()
	return funnel.GateResult{Passed: true, MissingSlots: []string{}}, nil
}

// Require is CheckCompany for error-path callers: nil when the gate passes,
// *EvaluationError when it does not.
func (g *Gate) Require(ctx context.Context, companyID string) error {
	result, err := g.CheckCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if !result.Passed {
		return &EvaluationError{CompanyID: companyID, MissingSlots: result.MissingSlots}
	}
	return nil
}
