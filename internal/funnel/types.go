package funnel

import "time"

// EntityKind distinguishes the two funnel participant shapes.
type EntityKind string

const (
	KindContact EntityKind = "contact"
	KindCompany EntityKind = "company"
)

// ValidEntityKinds defines allowed entity kinds.
var ValidEntityKinds = map[EntityKind]bool{
	KindContact: true,
	KindCompany: true,
}

// State identifies a funnel lifecycle state.
type State string

// States of the stock funnel. Custom definitions may declare their own.
const (
	StateNew          State = "new"
	StateQueued       State = "queued"
	StateContacted    State = "contacted"
	StateEngaged      State = "engaged"
	StateQualified    State = "qualified"
	StateDormant      State = "dormant"
	StateConverted    State = "converted"
	StateDisqualified State = "disqualified"
)

// EventType identifies a canonical funnel event.
type EventType string

// Canonical event types. EventReplyReceived is the raw form; the movement
// engine resolves it through the reply classifier into one of the
// reply.* variants before consulting the transition table.
const (
	EventEnrichmentCompleted EventType = "enrichment.completed"
	EventOutreachSent        EventType = "outreach.sent"
	EventReplyReceived       EventType = "reply.received"
	EventReplyPositive       EventType = "reply.positive"
	EventReplyNeutral        EventType = "reply.neutral"
	EventReplyNegative       EventType = "reply.negative"
	EventReplyOutOfOffice    EventType = "reply.out_of_office"
	EventReplyUnsubscribe    EventType = "reply.unsubscribe"
	EventMeetingBooked       EventType = "meeting.booked"
	EventHandoffAccepted     EventType = "handoff.accepted"
	EventTalentVerifiedMove  EventType = "talent.verified_move"
	EventSignalCooled        EventType = "signal.cooled"
)

// Tier names a composite-score band.
type Tier string

// Tiers of the stock band layout, coldest to hottest.
const (
	TierCold    Tier = "COLD"
	TierWarm    Tier = "WARM"
	TierHot     Tier = "HOT"
	TierBurning Tier = "BURNING"
)

// RejectReason classifies why a transition was not applied.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonNoEdge         RejectReason = "no_edge"
	ReasonTerminalState  RejectReason = "terminal_state"
	ReasonGateIncomplete RejectReason = "gate_incomplete"
	ReasonTierBelowMin   RejectReason = "tier_below_minimum"
	ReasonCooldownActive RejectReason = "cooldown_active"
	ReasonUncorroborated RejectReason = "uncorroborated_signal"
	ReasonStaleState     RejectReason = "stale_state"
)

// Entity is a funnel participant (contact or company).
// Only the movement engine mutates CurrentState. Entities are never
// deleted, only transitioned into terminal states.
type Entity struct {
	ID               string     `json:"id"`
	Kind             EntityKind `json:"kind"`
	CurrentState     State      `json:"current_state"`
	FunnelMembership string     `json:"funnel_membership"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DetectedEvent is a normalized, content-addressed funnel event.
// Immutable once recorded. The idempotency key is computed by EventKey
// from the stable business fields, never from random input.
type DetectedEvent struct {
	EntityID       string            `json:"entity_id"`
	Type           EventType         `json:"type"`
	OccurredAt     time.Time         `json:"occurred_at"`
	IdempotencyKey string            `json:"idempotency_key"` // Content-addressed hash
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TransitionRecord is one realized transition in the append-only log.
// Records are never updated or deleted.
type TransitionRecord struct {
	ID             int64     `json:"id"`  // Auto-increment (store FK)
	Seq            int64     `json:"seq"` // Logical clock
	EntityID       string    `json:"entity_id"`
	FromState      State     `json:"from_state"`
	ToState        State     `json:"to_state"`
	EventKey       string    `json:"event_key"` // DetectedEvent.IdempotencyKey
	EffectiveEvent EventType `json:"effective_event"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// PressureSignal is one immutable scoring input. Decay is derived at read
// time from CreatedAt; the row itself never changes.
type PressureSignal struct {
	ID              int64     `json:"id"` // Auto-increment (store FK)
	EntityID        string    `json:"entity_id"`
	Source          string    `json:"source"`
	ImpactWeight    float64   `json:"impact_weight"`
	DecayPeriodDays int       `json:"decay_period_days"`
	CreatedAt       time.Time `json:"created_at"`
}

// CompositeScore is the current decay-weighted score for an entity.
// Exactly one row per entity; recomputes overwrite in place.
type CompositeScore struct {
	EntityID   string    `json:"entity_id"`
	Score      float64   `json:"score"`
	Tier       Tier      `json:"tier"`
	ComputedAt time.Time `json:"computed_at"`
}

// SlotRequirement is a slot-fill row for a company. Rows are written by
// slot-fill pipelines outside this subsystem; this subsystem only reads.
type SlotRequirement struct {
	CompanyID string     `json:"company_id"`
	SlotName  string     `json:"slot_name"`
	Filled    bool       `json:"filled"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
}

// GateResult reports a slot-completion check. MissingSlots is sorted and
// empty when Passed.
type GateResult struct {
	Passed       bool     `json:"passed"`
	MissingSlots []string `json:"missing_slots,omitempty"`
}

// TransitionDecision is the outcome of determining (and possibly applying)
// a transition for one detected event. ShouldPersist mirrors Allowed at
// determination time; Replayed and Seq are filled in by apply.
type TransitionDecision struct {
	EntityID       string       `json:"entity_id"`
	From           State        `json:"from"`
	To             State        `json:"to,omitempty"`
	Event          EventType    `json:"event"`
	EffectiveEvent EventType    `json:"effective_event"`
	EventKey       string       `json:"event_key"`
	Allowed        bool         `json:"allowed"`
	ShouldPersist  bool         `json:"should_persist"`
	Reason         RejectReason `json:"reason,omitempty"`
	Rationale      string       `json:"rationale,omitempty"`
	Replayed       bool         `json:"replayed,omitempty"`
	Seq            int64        `json:"seq,omitempty"`
}
