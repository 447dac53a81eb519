package compiler

import (
	"fmt"
	"strings"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// Validation error codes (E200-E299)
const (
	// Definition-level errors (E200-E209)
	ErrNameEmpty      = "E200" // definition name is required
	ErrNoStates       = "E201" // at least one state required
	ErrStateNameEmpty = "E202" // state name empty
	ErrDuplicateState = "E203" // duplicate state name
	ErrBadInitial     = "E204" // initial missing, undeclared, or terminal

	// Edge errors (E210-E219)
	ErrEdgeEventEmpty   = "E210" // edge event empty
	ErrUnknownStateRef  = "E211" // edge references an undeclared state
	ErrEdgeFromTerminal = "E212" // edge leaves a terminal state
	ErrDuplicateEdge    = "E213" // duplicate (from, event) pair
	ErrUnknownTierRef   = "E214" // min_tier names no declared band

	// Tier band errors (E220-E229)
	ErrNoBands       = "E220" // at least one band required
	ErrTierNameEmpty = "E221" // tier name empty
	ErrDuplicateTier = "E222" // duplicate tier name
	ErrBandOrder     = "E223" // floors not strictly ascending

	// Slot and ownership errors (E230-E239)
	ErrSlotNameEmpty       = "E230" // slot name empty
	ErrDuplicateSlot       = "E231" // duplicate slot name
	ErrOwnershipIDEmpty    = "E232" // bounded context id empty
	ErrOwnershipNoPrefixes = "E233" // context declares no prefixes
	ErrOwnershipBadPrefix  = "E234" // empty or duplicate schema prefix
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors joins coded validation problems into one error value for
// callers that need a single error.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a raw definition config against schema rules.
// Returns all errors found (does not fail-fast). A Definition compiled by
// funnel.NewDefinition is valid by construction; Validate exists so tooling
// can report every problem in a config as a coded record before compiling.
func Validate(cfg funnel.DefinitionConfig) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	// E200: name required
	if strings.TrimSpace(cfg.Name) == "" {
		add(ErrNameEmpty, "name", "definition name is required")
	}

	// E201: at least one state
	if len(cfg.States) == 0 {
		add(ErrNoStates, "states", "at least one state is required")
	}

	stateSet := make(map[funnel.State]bool, len(cfg.States))
	terminal := make(map[funnel.State]bool)
	for i, sc := range cfg.States {
		// E202: state name empty
		if sc.Name == "" {
			add(ErrStateNameEmpty, fmt.Sprintf("states[%d].name", i), "state name must not be empty")
			continue
		}
		// E203: duplicate state
		if stateSet[sc.Name] {
			add(ErrDuplicateState, fmt.Sprintf("states[%d].name", i), "duplicate state %q", sc.Name)
			continue
		}
		stateSet[sc.Name] = true
		if sc.Terminal {
			terminal[sc.Name] = true
		}
	}

	// E204: initial must exist, be declared, and be non-terminal
	switch {
	case cfg.Initial == "":
		add(ErrBadInitial, "initial", "initial state must be declared")
	case len(stateSet) > 0 && !stateSet[cfg.Initial]:
		add(ErrBadInitial, "initial", "initial state %q is not declared", cfg.Initial)
	case terminal[cfg.Initial]:
		add(ErrBadInitial, "initial", "initial state %q must not be terminal", cfg.Initial)
	}

	// E220: at least one band
	if len(cfg.Bands) == 0 {
		add(ErrNoBands, "tiers", "at least one tier band is required")
	}

	tierSet := make(map[funnel.Tier]bool, len(cfg.Bands))
	for i, b := range cfg.Bands {
		// E221: tier name empty
		if b.Name == "" {
			add(ErrTierNameEmpty, fmt.Sprintf("tiers[%d].name", i), "tier name must not be empty")
			continue
		}
		// E222: duplicate tier
		if tierSet[b.Name] {
			add(ErrDuplicateTier, fmt.Sprintf("tiers[%d].name", i), "duplicate tier %q", b.Name)
			continue
		}
		tierSet[b.Name] = true

		// E223: floors strictly ascending
		if i > 0 && !(cfg.Bands[i-1].Min < b.Min) {
			add(ErrBandOrder, fmt.Sprintf("tiers[%d].min", i),
				"floor %v must be strictly greater than previous floor %v", b.Min, cfg.Bands[i-1].Min)
		}
	}

	edgeSeen := make(map[string]bool, len(cfg.Edges))
	for i, e := range cfg.Edges {
		field := func(f string) string { return fmt.Sprintf("transitions[%d].%s", i, f) }

		// E210: event required
		if e.Event == "" {
			add(ErrEdgeEventEmpty, field("event"), "event must not be empty")
		}

		// E211/E212: from must be declared and non-terminal
		if e.From == "" || (len(stateSet) > 0 && !stateSet[e.From]) {
			add(ErrUnknownStateRef, field("from"), "from state %q is not declared", e.From)
		} else if terminal[e.From] {
			add(ErrEdgeFromTerminal, field("from"), "from state %q is terminal; terminal states absorb", e.From)
		}

		// E211: to must be declared
		if e.To == "" || (len(stateSet) > 0 && !stateSet[e.To]) {
			add(ErrUnknownStateRef, field("to"), "to state %q is not declared", e.To)
		}

		// E214: min_tier must name a declared band
		if e.MinTier != "" && !tierSet[e.MinTier] {
			add(ErrUnknownTierRef, field("min_tier"), "min tier %q names no declared band", e.MinTier)
		}

		// E213: (from, event) must be unique
		key := string(e.From) + "\x00" + string(e.Event)
		if edgeSeen[key] {
			add(ErrDuplicateEdge, fmt.Sprintf("transitions[%d]", i), "duplicate edge (%s, %s)", e.From, e.Event)
			continue
		}
		edgeSeen[key] = true
	}

	slotSeen := make(map[string]bool, len(cfg.RequiredSlots))
	for i, s := range cfg.RequiredSlots {
		// E230: slot name required
		if s == "" {
			add(ErrSlotNameEmpty, fmt.Sprintf("required_slots[%d]", i), "slot name must not be empty")
			continue
		}
		// E231: duplicates
		if slotSeen[s] {
			add(ErrDuplicateSlot, fmt.Sprintf("required_slots[%d]", i), "duplicate slot %q", s)
		}
		slotSeen[s] = true
	}

	for ctx, prefixes := range cfg.Ownership {
		// E232: context id required
		if ctx == "" {
			add(ErrOwnershipIDEmpty, "schema_ownership", "bounded context id must not be empty")
		}
		// E233: prefixes required
		if len(prefixes) == 0 {
			add(ErrOwnershipNoPrefixes, fmt.Sprintf("schema_ownership.%s", ctx), "at least one schema prefix is required")
		}
		prefixSeen := make(map[string]bool, len(prefixes))
		for i, p := range prefixes {
			// E234: empty or duplicate prefix
			if p == "" {
				add(ErrOwnershipBadPrefix, fmt.Sprintf("schema_ownership.%s[%d]", ctx, i), "schema prefix must not be empty")
				continue
			}
			if prefixSeen[p] {
				add(ErrOwnershipBadPrefix, fmt.Sprintf("schema_ownership.%s[%d]", ctx, i), "duplicate schema prefix %q", p)
			}
			prefixSeen[p] = true
		}
	}

	return errs
}
