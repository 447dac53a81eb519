package funnel

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Edge is one declared transition: (From, Event) -> To. Preconditions are
// evaluated by the movement engine after the table lookup allows the edge.
type Edge struct {
	From         State     `json:"from"`
	Event        EventType `json:"event"`
	To           State     `json:"to"`
	RequiresGate bool      `json:"requires_gate,omitempty"`
	MinTier      Tier      `json:"min_tier,omitempty"`
}

// Band is one half-open score band [Min, nextBand.Min). The first band's
// floor is normalized to -Inf by NewDefinition; the last band extends to
// +Inf.
type Band struct {
	Name Tier    `json:"name"`
	Min  float64 `json:"min"`
}

// StateConfig declares one lifecycle state.
type StateConfig struct {
	Name     State `json:"name"`
	Terminal bool  `json:"terminal,omitempty"`
}

// DefinitionConfig is the raw material for NewDefinition. Callers hand it
// over and must not retain references to its slices or maps.
type DefinitionConfig struct {
	Name          string
	Initial       State
	States        []StateConfig
	Edges         []Edge
	Bands         []Band
	RequiredSlots []string
	Ownership     map[string][]string // bounded context -> schema prefixes
}

// transitionKey keys the lookup table. The table never branches on anything
// but this pair.
type transitionKey struct {
	from  State
	event EventType
}

// Definition is an immutable compiled funnel: state set, transition table,
// tier bands, required slots, and schema ownership. Construct with
// NewDefinition (or DefaultDefinition) and share freely across goroutines;
// there is no mutation after construction and no process-wide registry.
type Definition struct {
	name      string
	initial   State
	states    []StateConfig
	stateSet  map[State]bool
	terminal  map[State]bool
	table     map[transitionKey]Edge
	edges     []Edge
	bands     []Band
	tierRank  map[Tier]int
	slots     []string
	ownership map[string][]string
	hash      string
}

// NewDefinition validates cfg and compiles it into an immutable Definition.
// All problems are reported in one error, not just the first.
func NewDefinition(cfg DefinitionConfig) (*Definition, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Name == "" {
		addf("name must not be empty")
	}
	if len(cfg.States) == 0 {
		addf("at least one state is required")
	}

	stateSet := make(map[State]bool, len(cfg.States))
	terminal := make(map[State]bool)
	for i, sc := range cfg.States {
		if sc.Name == "" {
			addf("states[%d]: name must not be empty", i)
			continue
		}
		if stateSet[sc.Name] {
			addf("states[%d]: duplicate state %q", i, sc.Name)
			continue
		}
		stateSet[sc.Name] = true
		if sc.Terminal {
			terminal[sc.Name] = true
		}
	}

	if cfg.Initial == "" {
		addf("initial state must be declared")
	} else if len(stateSet) > 0 {
		if !stateSet[cfg.Initial] {
			addf("initial state %q is not declared", cfg.Initial)
		} else if terminal[cfg.Initial] {
			addf("initial state %q must not be terminal", cfg.Initial)
		}
	}

	if len(cfg.Bands) == 0 {
		addf("at least one tier band is required")
	}
	tierRank := make(map[Tier]int, len(cfg.Bands))
	for i, b := range cfg.Bands {
		if b.Name == "" {
			addf("bands[%d]: name must not be empty", i)
			continue
		}
		if _, dup := tierRank[b.Name]; dup {
			addf("bands[%d]: duplicate tier %q", i, b.Name)
			continue
		}
		tierRank[b.Name] = i
		if i > 0 && !(cfg.Bands[i-1].Min < b.Min) {
			addf("bands[%d]: min %v must be strictly greater than previous min %v", i, b.Min, cfg.Bands[i-1].Min)
		}
	}

	table := make(map[transitionKey]Edge, len(cfg.Edges))
	for i, e := range cfg.Edges {
		if e.Event == "" {
			addf("edges[%d]: event must not be empty", i)
		}
		if e.From == "" || (len(stateSet) > 0 && !stateSet[e.From]) {
			addf("edges[%d]: from state %q is not declared", i, e.From)
		} else if terminal[e.From] {
			addf("edges[%d]: from state %q is terminal; terminal states absorb", i, e.From)
		}
		if e.To == "" || (len(stateSet) > 0 && !stateSet[e.To]) {
			addf("edges[%d]: to state %q is not declared", i, e.To)
		}
		if e.MinTier != "" {
			if _, ok := tierRank[e.MinTier]; !ok {
				addf("edges[%d]: min tier %q names no declared band", i, e.MinTier)
			}
		}
		key := transitionKey{from: e.From, event: e.Event}
		if _, dup := table[key]; dup {
			addf("edges[%d]: duplicate edge (%s, %s)", i, e.From, e.Event)
			continue
		}
		table[key] = e
	}

	slotSeen := make(map[string]bool, len(cfg.RequiredSlots))
	for i, s := range cfg.RequiredSlots {
		if s == "" {
			addf("required_slots[%d]: name must not be empty", i)
			continue
		}
		if slotSeen[s] {
			addf("required_slots[%d]: duplicate slot %q", i, s)
		}
		slotSeen[s] = true
	}

	for ctx, prefixes := range cfg.Ownership {
		if ctx == "" {
			addf("ownership: bounded context id must not be empty")
		}
		if len(prefixes) == 0 {
			addf("ownership[%q]: at least one schema prefix is required", ctx)
		}
		seen := make(map[string]bool, len(prefixes))
		for i, p := range prefixes {
			if p == "" {
				addf("ownership[%q][%d]: schema prefix must not be empty", ctx, i)
				continue
			}
			if seen[p] {
				addf("ownership[%q][%d]: duplicate schema prefix %q", ctx, i, p)
			}
			seen[p] = true
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid definition %q: %s", cfg.Name, strings.Join(problems, "; "))
	}

	d := &Definition{
		name:      cfg.Name,
		initial:   cfg.Initial,
		states:    slices.Clone(cfg.States),
		stateSet:  stateSet,
		terminal:  terminal,
		table:     table,
		edges:     slices.Clone(cfg.Edges),
		bands:     slices.Clone(cfg.Bands),
		tierRank:  tierRank,
		slots:     slices.Clone(cfg.RequiredSlots),
		ownership: make(map[string][]string, len(cfg.Ownership)),
	}

	// First band reaches down to -Inf so every score lands in some band.
	d.bands[0].Min = math.Inf(-1)

	for ctx, prefixes := range cfg.Ownership {
		d.ownership[ctx] = slices.Clone(prefixes)
	}

	hash, err := definitionHash(d)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w", cfg.Name, err)
	}
	d.hash = hash

	return d, nil
}

// definitionHash content-addresses the compiled definition. Band floors are
// formatted as decimal strings because canonical JSON forbids floats.
func definitionHash(d *Definition) (string, error) {
	states := make([]any, len(d.states))
	sorted := slices.Clone(d.states)
	slices.SortFunc(sorted, func(a, b StateConfig) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
	for i, sc := range sorted {
		states[i] = map[string]any{
			"name":     string(sc.Name),
			"terminal": sc.Terminal,
		}
	}

	edges := make([]any, len(d.edges))
	sortedEdges := slices.Clone(d.edges)
	slices.SortFunc(sortedEdges, func(a, b Edge) int {
		if c := strings.Compare(string(a.From), string(b.From)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Event), string(b.Event))
	})
	for i, e := range sortedEdges {
		edges[i] = map[string]any{
			"from":          string(e.From),
			"event":         string(e.Event),
			"to":            string(e.To),
			"requires_gate": e.RequiresGate,
			"min_tier":      string(e.MinTier),
		}
	}

	bands := make([]any, len(d.bands))
	for i, b := range d.bands {
		bands[i] = map[string]any{
			"name": string(b.Name),
			"min":  formatBandMin(b.Min),
		}
	}

	slots := slices.Clone(d.slots)
	slices.Sort(slots)

	ownership := make(map[string]any, len(d.ownership))
	for ctx, prefixes := range d.ownership {
		ps := slices.Clone(prefixes)
		slices.Sort(ps)
		ownership[ctx] = ps
	}

	obj := map[string]any{
		"name":           d.name,
		"initial":        string(d.initial),
		"states":         states,
		"edges":          edges,
		"bands":          bands,
		"required_slots": slots,
		"ownership":      ownership,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("definition hash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// formatBandMin renders a band floor as a decimal string for canonical JSON.
func formatBandMin(min float64) string {
	if math.IsInf(min, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(min, 'g', -1, 64)
}

// Name returns the definition's name.
func (d *Definition) Name() string { return d.name }

// InitialState returns the declared initial state.
func (d *Definition) InitialState() State { return d.initial }

// HasState reports whether s is declared.
func (d *Definition) HasState(s State) bool { return d.stateSet[s] }

// IsTerminal reports whether s is a declared terminal state.
func (d *Definition) IsTerminal(s State) bool { return d.terminal[s] }

// States returns the declared states in declaration order.
func (d *Definition) States() []StateConfig { return slices.Clone(d.states) }

// Edges returns the declared edges in declaration order.
func (d *Definition) Edges() []Edge { return slices.Clone(d.edges) }

// Bands returns the tier bands in ascending floor order.
func (d *Definition) Bands() []Band { return slices.Clone(d.bands) }

// TierRank returns the band index of t (coldest is 0) and whether t is
// declared. Ranks order tiers for min-tier preconditions.
func (d *Definition) TierRank(t Tier) (int, bool) {
	r, ok := d.tierRank[t]
	return r, ok
}

// RequiredSlots returns the slot names a company must fill to pass the gate.
func (d *Definition) RequiredSlots() []string { return slices.Clone(d.slots) }

// Ownership returns the bounded context -> schema prefix mapping.
func (d *Definition) Ownership() map[string][]string {
	out := make(map[string][]string, len(d.ownership))
	for ctx, prefixes := range d.ownership {
		out[ctx] = slices.Clone(prefixes)
	}
	return out
}

// Hash returns the content-addressed hash of the compiled definition.
// Stable across processes for semantically identical configs.
func (d *Definition) Hash() string { return d.hash }

// DefaultConfig returns the stock funnel configuration.
func DefaultConfig() DefinitionConfig {
	states := []StateConfig{
		{Name: StateNew},
		{Name: StateQueued},
		{Name: StateContacted},
		{Name: StateEngaged},
		{Name: StateQualified},
		{Name: StateDormant},
		{Name: StateConverted, Terminal: true},
		{Name: StateDisqualified, Terminal: true},
	}

	edges := []Edge{
		{From: StateNew, Event: EventEnrichmentCompleted, To: StateQueued},
		{From: StateQueued, Event: EventOutreachSent, To: StateContacted},
		{From: StateDormant, Event: EventOutreachSent, To: StateContacted},
		{From: StateContacted, Event: EventReplyPositive, To: StateEngaged},
		{From: StateContacted, Event: EventReplyNeutral, To: StateEngaged},
		{From: StateContacted, Event: EventReplyNegative, To: StateDormant},
		{From: StateEngaged, Event: EventReplyNegative, To: StateDormant},
		{From: StateEngaged, Event: EventMeetingBooked, To: StateQualified, MinTier: TierWarm},
		{From: StateQualified, Event: EventHandoffAccepted, To: StateConverted, RequiresGate: true, MinTier: TierHot},
		{From: StateContacted, Event: EventTalentVerifiedMove, To: StateEngaged},
		{From: StateDormant, Event: EventTalentVerifiedMove, To: StateQueued},
		{From: StateEngaged, Event: EventSignalCooled, To: StateDormant},
	}

	// Unsubscribe disqualifies from every non-terminal state. Materialized
	// here so the lookup table stays the only branching authority;
	// reply.out_of_office has no edges anywhere.
	for _, sc := range states {
		if sc.Terminal {
			continue
		}
		edges = append(edges, Edge{From: sc.Name, Event: EventReplyUnsubscribe, To: StateDisqualified})
	}

	return DefinitionConfig{
		Name:    "default",
		Initial: StateNew,
		States:  states,
		Edges:   edges,
		Bands: []Band{
			{Name: TierCold, Min: math.Inf(-1)},
			{Name: TierWarm, Min: 20},
			{Name: TierHot, Min: 50},
			{Name: TierBurning, Min: 80},
		},
		RequiredSlots: []string{"decision_maker", "budget_holder", "champion"},
		Ownership: map[string][]string{
			"outreach_core": {"main", "funnel", "bit"},
			"intake":        {"intake", "enrichment"},
			"talent_flow":   {"talent"},
			"reporting":     {"funnel", "bit", "enrichment", "talent"},
		},
	}
}

// DefaultDefinition compiles DefaultConfig. Panics on error; the stock
// config is fixed at build time.
func DefaultDefinition() *Definition {
	d, err := NewDefinition(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return d
}
