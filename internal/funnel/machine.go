package funnel

// Lookup is the result of consulting the transition table. Edge is the
// zero value unless Allowed.
type Lookup struct {
	Allowed bool
	Next    State
	Edge    Edge
	Reason  RejectReason
}

// Transition resolves (state, event) against the table. Unknown pairs
// reject with ReasonNoEdge rather than erroring. Terminal states absorb:
// every event is rejected with ReasonTerminalState regardless of type.
//
// Contextual disambiguation (reply sentiment, corroboration) happens in the
// movement layer before this lookup; the table itself never branches on
// anything but the pair.
func (d *Definition) Transition(state State, event EventType) Lookup {
	if d.terminal[state] {
		return Lookup{Reason: ReasonTerminalState}
	}
	edge, ok := d.table[transitionKey{from: state, event: event}]
	if !ok {
		return Lookup{Reason: ReasonNoEdge}
	}
	return Lookup{Allowed: true, Next: edge.To, Edge: edge}
}
