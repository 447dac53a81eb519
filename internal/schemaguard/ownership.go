package schemaguard

import (
	"fmt"
	"slices"
	"strings"
)

// Ownership is the immutable bounded-context -> schema-prefix mapping.
// Built once at process start and shared; never mutated afterwards.
type Ownership struct {
	allowed map[string]map[string]bool
	schemas map[string]bool // union of every prefix: the known universe
}

// NewOwnership validates and compiles the raw mapping. Prefix comparison is
// case-insensitive; prefixes are stored lowercased.
func NewOwnership(mapping map[string][]string) (*Ownership, error) {
	o := &Ownership{
		allowed: make(map[string]map[string]bool, len(mapping)),
		schemas: make(map[string]bool),
	}

	for ctx, prefixes := range mapping {
		if strings.TrimSpace(ctx) == "" {
			return nil, fmt.Errorf("ownership: bounded context id must not be empty")
		}
		if len(prefixes) == 0 {
			return nil, fmt.Errorf("ownership: context %q has no schema prefixes", ctx)
		}
		set := make(map[string]bool, len(prefixes))
		for _, p := range prefixes {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				return nil, fmt.Errorf("ownership: context %q has an empty schema prefix", ctx)
			}
			set[p] = true
			o.schemas[p] = true
		}
		o.allowed[ctx] = set
	}

	return o, nil
}

// MustOwnership is like NewOwnership but panics on error.
// Use only in tests or with configs known to be valid.
func MustOwnership(mapping map[string][]string) *Ownership {
	o, err := NewOwnership(mapping)
	if err != nil {
		panic(err)
	}
	return o
}

// Contexts returns the declared bounded-context ids, sorted.
func (o *Ownership) Contexts() []string {
	out := make([]string, 0, len(o.allowed))
	for ctx := range o.allowed {
		out = append(out, ctx)
	}
	slices.Sort(out)
	return out
}

// AllowedFor returns the schema prefixes a context may reference, sorted.
// Unknown contexts get an empty list: they may touch nothing that is owned.
func (o *Ownership) AllowedFor(contextID string) []string {
	set, ok := o.allowed[contextID]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// knows reports whether schema names any owned prefix at all.
func (o *Ownership) knows(schema string) bool {
	return o.schemas[schema]
}

// allows reports whether contextID may reference schema.
func (o *Ownership) allows(contextID, schema string) bool {
	return o.allowed[contextID][schema]
}
