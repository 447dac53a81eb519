package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// CompileDefinition parses a CUE value into an immutable funnel.Definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value may be the funnel struct itself or a file-level value wrapping
// it under "funnel":
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`funnel: {initial: "new", ...}`)
//	def, err := CompileDefinition(v)
//
// Type-level problems (a field of the wrong kind) surface as positioned
// *CompileError. Semantic problems (undeclared states, duplicate edges)
// surface as ValidationErrors carrying every problem found.
func CompileDefinition(v cue.Value) (*funnel.Definition, error) {
	cfg, err := ParseConfig(v)
	if err != nil {
		return nil, err
	}
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return funnel.NewDefinition(cfg)
}

// ParseConfig extracts a raw DefinitionConfig from a CUE value. Absent
// fields parse to zero values; Validate decides what absence means. Only
// present-but-mistyped fields error here.
func ParseConfig(v cue.Value) (funnel.DefinitionConfig, error) {
	var cfg funnel.DefinitionConfig

	if err := v.Err(); err != nil {
		return cfg, formatCUEError(err)
	}

	// Accept both a bare funnel struct and a file wrapping it.
	if root := v.LookupPath(cue.ParsePath("funnel")); root.Exists() {
		v = root
	}

	name, err := stringField(v, "name")
	if err != nil {
		return cfg, err
	}
	cfg.Name = name

	initial, err := stringField(v, "initial")
	if err != nil {
		return cfg, err
	}
	cfg.Initial = funnel.State(initial)

	if cfg.States, err = parseStates(v); err != nil {
		return cfg, err
	}
	if cfg.Edges, err = parseTransitions(v); err != nil {
		return cfg, err
	}
	if cfg.Bands, err = parseTiers(v); err != nil {
		return cfg, err
	}

	slotsVal := v.LookupPath(cue.ParsePath("required_slots"))
	if slotsVal.Exists() {
		if cfg.RequiredSlots, err = listOfStrings(slotsVal, "required_slots"); err != nil {
			return cfg, err
		}
	}

	if cfg.Ownership, err = parseOwnership(v); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// parseStates extracts the state list.
func parseStates(v cue.Value) ([]funnel.StateConfig, error) {
	statesVal := v.LookupPath(cue.ParsePath("states"))
	if !statesVal.Exists() {
		return nil, nil
	}

	iter, err := statesVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "states",
			Message: "must be a list",
			Pos:     statesVal.Pos(),
		}
	}

	var states []funnel.StateConfig
	for i := 0; iter.Next(); i++ {
		sv := iter.Value()

		name, err := stringFieldAt(sv, "name", fmt.Sprintf("states[%d].name", i))
		if err != nil {
			return nil, err
		}
		terminal, err := boolFieldAt(sv, "terminal", fmt.Sprintf("states[%d].terminal", i))
		if err != nil {
			return nil, err
		}

		states = append(states, funnel.StateConfig{
			Name:     funnel.State(name),
			Terminal: terminal,
		})
	}
	return states, nil
}

// parseTransitions extracts the edge list.
func parseTransitions(v cue.Value) ([]funnel.Edge, error) {
	transVal := v.LookupPath(cue.ParsePath("transitions"))
	if !transVal.Exists() {
		return nil, nil
	}

	iter, err := transVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "transitions",
			Message: "must be a list",
			Pos:     transVal.Pos(),
		}
	}

	var edges []funnel.Edge
	for i := 0; iter.Next(); i++ {
		ev := iter.Value()
		path := func(f string) string { return fmt.Sprintf("transitions[%d].%s", i, f) }

		from, err := stringFieldAt(ev, "from", path("from"))
		if err != nil {
			return nil, err
		}
		event, err := stringFieldAt(ev, "event", path("event"))
		if err != nil {
			return nil, err
		}
		to, err := stringFieldAt(ev, "to", path("to"))
		if err != nil {
			return nil, err
		}
		requiresGate, err := boolFieldAt(ev, "requires_gate", path("requires_gate"))
		if err != nil {
			return nil, err
		}
		minTier, err := stringFieldAt(ev, "min_tier", path("min_tier"))
		if err != nil {
			return nil, err
		}

		edges = append(edges, funnel.Edge{
			From:         funnel.State(from),
			Event:        funnel.EventType(event),
			To:           funnel.State(to),
			RequiresGate: requiresGate,
			MinTier:      funnel.Tier(minTier),
		})
	}
	return edges, nil
}

// parseTiers extracts the score band list. Band floors are CUE numbers;
// the first band's floor is normalized to -Inf downstream, so its declared
// value only anchors the ordering check.
func parseTiers(v cue.Value) ([]funnel.Band, error) {
	tiersVal := v.LookupPath(cue.ParsePath("tiers"))
	if !tiersVal.Exists() {
		return nil, nil
	}

	iter, err := tiersVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "tiers",
			Message: "must be a list",
			Pos:     tiersVal.Pos(),
		}
	}

	var bands []funnel.Band
	for i := 0; iter.Next(); i++ {
		tv := iter.Value()

		name, err := stringFieldAt(tv, "name", fmt.Sprintf("tiers[%d].name", i))
		if err != nil {
			return nil, err
		}

		minVal := tv.LookupPath(cue.ParsePath("min"))
		var min float64
		if minVal.Exists() {
			min, err = minVal.Float64()
			if err != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("tiers[%d].min", i),
					Message: "must be a number",
					Pos:     minVal.Pos(),
				}
			}
		}

		bands = append(bands, funnel.Band{
			Name: funnel.Tier(name),
			Min:  min,
		})
	}
	return bands, nil
}

// parseOwnership extracts the bounded context -> schema prefix map.
func parseOwnership(v cue.Value) (map[string][]string, error) {
	ownVal := v.LookupPath(cue.ParsePath("schema_ownership"))
	if !ownVal.Exists() {
		return nil, nil
	}

	iter, err := ownVal.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   "schema_ownership",
			Message: "must be a struct mapping context ids to prefix lists",
			Pos:     ownVal.Pos(),
		}
	}

	ownership := make(map[string][]string)
	for iter.Next() {
		// Context ids may be quoted in CUE source.
		ctxID := strings.Trim(iter.Label(), `"`)
		prefixes, err := listOfStrings(iter.Value(), "schema_ownership."+ctxID)
		if err != nil {
			return nil, err
		}
		ownership[ctxID] = prefixes
	}
	return ownership, nil
}

// listOfStrings reads a CUE list value whose elements must all be strings.
func listOfStrings(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "must be a list of strings",
			Pos:     v.Pos(),
		}
	}

	var out []string
	for i := 0; iter.Next(); i++ {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: "must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// stringField reads an optional top-level string field.
func stringField(v cue.Value, field string) (string, error) {
	return stringFieldAt(v, field, field)
}

// stringFieldAt reads an optional string field, reporting errors under the
// given path label.
func stringFieldAt(v cue.Value, field, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   path,
			Message: "must be a string",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// boolFieldAt reads an optional bool field, reporting errors under the
// given path label.
func boolFieldAt(v cue.Value, field, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   path,
			Message: "must be a bool",
			Pos:     fv.Pos(),
		}
	}
	return b, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
