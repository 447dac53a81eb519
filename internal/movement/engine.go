package movement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/metrics"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// DefaultCooldownWindow is the sliding outreach cooldown when
// WithCooldownWindow is not set.
const DefaultCooldownWindow = 72 * time.Hour

// Metadata keys the engine interprets. Everything else in the metadata map
// passes through untouched.
const (
	metaBody           = "body"
	metaSources        = "sources"
	metaVerifiedFiling = "verified_filing"
)

// RawEvent is the loose inbound shape handed over by ingestion adapters
// (reply webhooks, filing importers, send trackers). Type accepts both
// canonical event names and the aliases adapters commonly emit.
type RawEvent struct {
	EntityID   string            `json:"entity_id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

var canonicalEvents = map[funnel.EventType]bool{
	funnel.EventEnrichmentCompleted: true,
	funnel.EventOutreachSent:        true,
	funnel.EventReplyReceived:       true,
	funnel.EventReplyPositive:       true,
	funnel.EventReplyNeutral:        true,
	funnel.EventReplyNegative:       true,
	funnel.EventReplyOutOfOffice:    true,
	funnel.EventReplyUnsubscribe:    true,
	funnel.EventMeetingBooked:       true,
	funnel.EventHandoffAccepted:     true,
	funnel.EventTalentVerifiedMove:  true,
	funnel.EventSignalCooled:        true,
}

// eventAliases maps the loose type tags adapters emit onto canonical
// event types. Aliases resolve before key computation, so "reply" and
// "reply.received" deliveries of the same physical event share one
// idempotency key.
var eventAliases = map[string]funnel.EventType{
	"reply":         funnel.EventReplyReceived,
	"email.reply":   funnel.EventReplyReceived,
	"unsubscribe":   funnel.EventReplyUnsubscribe,
	"ooo":           funnel.EventReplyOutOfOffice,
	"out_of_office": funnel.EventReplyOutOfOffice,
	"outreach":      funnel.EventOutreachSent,
	"email.sent":    funnel.EventOutreachSent,
	"enrichment":    funnel.EventEnrichmentCompleted,
	"enriched":      funnel.EventEnrichmentCompleted,
	"meeting":       funnel.EventMeetingBooked,
	"handoff":       funnel.EventHandoffAccepted,
	"talent.move":   funnel.EventTalentVerifiedMove,
	"talent_move":   funnel.EventTalentVerifiedMove,
	"cooled":        funnel.EventSignalCooled,
}

// Engine moves entities through the funnel.
//
// The engine normalizes raw events, resolves them through the movement
// rules, consults the transition table, and persists the outcome. All
// entity mutation in the system flows through ApplyTransition; nothing
// else writes entity state.
//
// Thread-safety model:
//   - All methods are safe from any goroutine.
//   - Concurrent applies for the same event key race on the store's
//     claim insert; exactly one wins, losers get the winner's decision.
//   - Concurrent applies for the same entity with different events race
//     on the conditional state update; losers re-decide against the
//     fresh state.
type Engine struct {
	store      *store.Store
	def        *funnel.Definition
	classifier rules.ReplyClassifier
	scorer     *scoring.Engine
	gate       *gate.Gate
	clock      *Clock
	now        func() time.Time
	cooldown   time.Duration
}

// Option configures an Engine during New.
type Option func(*Engine)

// WithWallClock replaces the wall-time source used for RecordedAt stamps
// and cooldown arithmetic. Tests pass a fixed clock.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCooldownWindow sets the sliding outreach cooldown. Zero or negative
// disables the check.
func WithCooldownWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.cooldown = d
	}
}

// New creates a movement engine. The classifier resolves raw replies, the
// scorer answers tier preconditions, and the gate answers slot
// preconditions; all three are consulted only when an edge demands it.
func New(
	s *store.Store,
	def *funnel.Definition,
	classifier rules.ReplyClassifier,
	scorer *scoring.Engine,
	g *gate.Gate,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      s,
		def:        def,
		classifier: classifier,
		scorer:     scorer,
		gate:       g,
		clock:      NewClock(),
		now:        time.Now,
		cooldown:   DefaultCooldownWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resume seeds the logical clock from the last persisted seq. Call once
// after New when reopening an existing log, before processing events.
func (e *Engine) Resume(ctx context.Context) error {
	last, err := e.store.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("resume clock: %w", err)
	}
	e.clock = NewClockAt(last)
	return nil
}

// Seq returns the logical clock's current position.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// DetectEvent normalizes a raw inbound event into the canonical shape and
// computes its content-addressed idempotency key. The key derives from
// the stable business fields after alias normalization, never from
// random or machine-local input, so redelivery of the same physical
// event is detectable.
func (e *Engine) DetectEvent(raw RawEvent) (funnel.DetectedEvent, error) {
	if raw.EntityID == "" {
		return funnel.DetectedEvent{}, fmt.Errorf("detect event: empty entity id")
	}
	eventType, ok := normalizeEventType(raw.Type)
	if !ok {
		return funnel.DetectedEvent{}, fmt.Errorf("detect event %s: unknown event type %q", raw.EntityID, raw.Type)
	}
	if raw.OccurredAt.IsZero() {
		return funnel.DetectedEvent{}, fmt.Errorf("detect event %s: zero occurred_at", raw.EntityID)
	}

	occurred := raw.OccurredAt.UTC()
	md := maps.Clone(raw.Metadata)
	key, err := funnel.EventKey(raw.EntityID, eventType, occurred, md)
	if err != nil {
		return funnel.DetectedEvent{}, fmt.Errorf("detect event %s: %w", raw.EntityID, err)
	}

	metrics.EventsDetected.Inc()
	return funnel.DetectedEvent{
		EntityID:       raw.EntityID,
		Type:           eventType,
		OccurredAt:     occurred,
		IdempotencyKey: key,
		Metadata:       md,
	}, nil
}

func normalizeEventType(raw string) (funnel.EventType, bool) {
	t := funnel.EventType(strings.ToLower(strings.TrimSpace(raw)))
	if canonicalEvents[t] {
		return t, true
	}
	if alias, ok := eventAliases[string(t)]; ok {
		return alias, true
	}
	return "", false
}

// DetermineNextState resolves the event against the entity's current
// state. Raw replies go through the classifier first; talent-flow events
// must corroborate before they reach the table; allowed edges then have
// their preconditions (gate, minimum tier, outreach cooldown) evaluated.
//
// Policy rejections come back inside the decision, not as errors. The
// error return is for store failures during precondition reads.
func (e *Engine) DetermineNextState(ctx context.Context, entity funnel.Entity, ev funnel.DetectedEvent) (funnel.TransitionDecision, error) {
	decision := funnel.TransitionDecision{
		EntityID:       entity.ID,
		From:           entity.CurrentState,
		Event:          ev.Type,
		EffectiveEvent: ev.Type,
		EventKey:       ev.IdempotencyKey,
	}

	if ev.Type == funnel.EventReplyReceived {
		cls := e.classifier.Classify(ev.Metadata[metaBody])
		decision.EffectiveEvent = cls.Class.EventType()
		decision.Rationale = cls.Rationale
	}

	if ev.Type == funnel.EventTalentVerifiedMove {
		res := rules.ValidateTalentFlow(talentSignal(ev.Metadata))
		if !res.Actionable {
			decision.Reason = funnel.ReasonUncorroborated
			decision.Rationale = res.Rationale
			return decision, nil
		}
		decision.Rationale = res.Rationale
	}

	lookup := e.def.Transition(entity.CurrentState, decision.EffectiveEvent)
	if !lookup.Allowed {
		decision.Reason = lookup.Reason
		decision.Rationale = rejectRationale(lookup.Reason, entity.CurrentState, decision.EffectiveEvent)
		return decision, nil
	}

	reason, rationale, err := e.checkPreconditions(ctx, entity, lookup.Edge, decision.EffectiveEvent)
	if err != nil {
		return funnel.TransitionDecision{}, err
	}
	if reason != funnel.ReasonNone {
		decision.Reason = reason
		decision.Rationale = rationale
		return decision, nil
	}

	decision.To = lookup.Next
	decision.Allowed = true
	decision.ShouldPersist = true
	if decision.Rationale == "" {
		decision.Rationale = fmt.Sprintf("edge %s to %s on %s", decision.From, decision.To, decision.EffectiveEvent)
	}
	return decision, nil
}

func rejectRationale(reason funnel.RejectReason, state funnel.State, event funnel.EventType) string {
	switch reason {
	case funnel.ReasonTerminalState:
		return fmt.Sprintf("state %s is terminal; all events are absorbed", state)
	case funnel.ReasonNoEdge:
		return fmt.Sprintf("no edge from %s on %s", state, event)
	default:
		return fmt.Sprintf("transition from %s on %s rejected", state, event)
	}
}

// checkPreconditions evaluates the edge's preconditions in a fixed order
// (gate, tier, cooldown) so the reported reason is deterministic. The
// gate applies to companies only; contacts have no slot roster.
func (e *Engine) checkPreconditions(ctx context.Context, entity funnel.Entity, edge funnel.Edge, effective funnel.EventType) (funnel.RejectReason, string, error) {
	if edge.RequiresGate && entity.Kind == funnel.KindCompany {
		res, err := e.gate.CheckCompany(ctx, entity.ID)
		if err != nil {
			return funnel.ReasonNone, "", fmt.Errorf("gate check %s: %w", entity.ID, err)
		}
		if !res.Passed {
			return funnel.ReasonGateIncomplete, fmt.Sprintf("missing slots: %s", strings.Join(res.MissingSlots, ", ")), nil
		}
	}

	if edge.MinTier != "" {
		cs, err := e.scorer.Score(ctx, entity.ID)
		if err != nil {
			return funnel.ReasonNone, "", fmt.Errorf("tier check %s: %w", entity.ID, err)
		}
		minRank, ok := e.def.TierRank(edge.MinTier)
		if !ok {
			return funnel.ReasonNone, "", fmt.Errorf("tier check %s: edge requires undeclared tier %q", entity.ID, edge.MinTier)
		}
		curRank, ok := e.def.TierRank(cs.Tier)
		if !ok {
			curRank = -1
		}
		if curRank < minRank {
			return funnel.ReasonTierBelowMin, fmt.Sprintf("tier %s below required %s (score %.2f)", cs.Tier, edge.MinTier, cs.Score), nil
		}
	}

	if effective == funnel.EventOutreachSent && e.cooldown > 0 {
		last, _, err := e.store.LatestEventAt(ctx, entity.ID, funnel.EventOutreachSent)
		if err != nil {
			return funnel.ReasonNone, "", fmt.Errorf("cooldown check %s: %w", entity.ID, err)
		}
		res := rules.CooldownCheck(last, e.cooldown, e.now())
		if !res.Allowed {
			return funnel.ReasonCooldownActive, res.Rationale, nil
		}
	}

	return funnel.ReasonNone, "", nil
}

func talentSignal(md map[string]string) rules.TalentFlowSignal {
	var sig rules.TalentFlowSignal
	if raw := md[metaSources]; raw != "" {
		sig.Sources = strings.Split(raw, ",")
	}
	sig.VerifiedFiling = md[metaVerifiedFiling] == "true"
	return sig
}

// ApplyTransition persists an allowed decision: event record, transition
// record, and conditional entity-state update in one transaction. Replay
// of an already-applied event key returns the prior decision with
// Replayed set, no error, no second record; a losing concurrent attempt
// short-circuits the same way.
//
// Handing over a rejected decision is a caller bug and returns a typed
// *Error carrying the decision's reject reason.
func (e *Engine) ApplyTransition(ctx context.Context, entity funnel.Entity, decision funnel.TransitionDecision, ev funnel.DetectedEvent) (funnel.TransitionDecision, error) {
	if !decision.Allowed {
		return decision, &Error{
			Code:     rejectCode(decision.Reason),
			Message:  "transition not allowed: " + decision.Rationale,
			EntityID: entity.ID,
			EventKey: decision.EventKey,
			Reason:   decision.Reason,
		}
	}

	rec := funnel.TransitionRecord{
		Seq:            e.clock.Next(),
		EntityID:       entity.ID,
		FromState:      decision.From,
		ToState:        decision.To,
		EventKey:       decision.EventKey,
		EffectiveEvent: decision.EffectiveEvent,
		RecordedAt:     e.now(),
	}

	applied, inserted, err := e.store.ApplyTransitionAtomic(ctx, ev, rec)
	if err != nil {
		if errors.Is(err, store.ErrStaleEntityState) {
			return decision, &Error{
				Code:     ErrCodeStaleState,
				Message:  fmt.Sprintf("entity moved past %s before the update landed", decision.From),
				EntityID: entity.ID,
				EventKey: decision.EventKey,
				Reason:   funnel.ReasonStaleState,
			}
		}
		return decision, fmt.Errorf("apply transition %s: %w", entity.ID, err)
	}

	if !inserted {
		prior := priorDecision(ev, applied)
		metrics.ReplayHits.Inc()
		slog.Info("transition replayed",
			"entity_id", prior.EntityID,
			"seq", prior.Seq,
			"from", prior.From,
			"to", prior.To)
		return prior, nil
	}

	decision.Seq = applied.Seq
	metrics.TransitionsApplied.Inc()
	slog.Info("transition applied",
		"entity_id", entity.ID,
		"from", decision.From,
		"to", decision.To,
		"event", decision.EffectiveEvent,
		"seq", applied.Seq)
	return decision, nil
}

// ProcessEvent is the full pipeline: detect, replay check, load entity,
// determine, apply. Rejected transitions still write the event row (the
// event happened; the funnel just refuses to move) but never touch entity
// state, and come back as a decision, not an error. A lost state race
// re-decides once against the fresh state before giving up.
func (e *Engine) ProcessEvent(ctx context.Context, raw RawEvent) (funnel.TransitionDecision, error) {
	ev, err := e.DetectEvent(raw)
	if err != nil {
		return funnel.TransitionDecision{}, err
	}

	// Answer re-deliveries from the log before any re-evaluation: the
	// prior decision is authoritative however conditions drifted since.
	rec, found, err := e.store.ReadTransitionByEventKey(ctx, ev.IdempotencyKey)
	if err != nil {
		return funnel.TransitionDecision{}, fmt.Errorf("process %s: %w", ev.EntityID, err)
	}
	if found {
		prior := priorDecision(ev, rec)
		metrics.ReplayHits.Inc()
		slog.Debug("event answered from transition log",
			"entity_id", prior.EntityID,
			"seq", prior.Seq)
		return prior, nil
	}

	const staleRetries = 1
	for attempt := 0; ; attempt++ {
		entity, err := e.store.ReadEntity(ctx, ev.EntityID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return funnel.TransitionDecision{}, &Error{
					Code:     ErrCodeUnknownEntity,
					Message:  "entity not registered",
					EntityID: ev.EntityID,
					EventKey: ev.IdempotencyKey,
				}
			}
			return funnel.TransitionDecision{}, fmt.Errorf("process %s: %w", ev.EntityID, err)
		}

		decision, err := e.DetermineNextState(ctx, entity, ev)
		if err != nil {
			return funnel.TransitionDecision{}, err
		}

		if !decision.Allowed {
			if _, err := e.store.WriteEvent(ctx, ev); err != nil {
				return funnel.TransitionDecision{}, fmt.Errorf("process %s: audit event: %w", ev.EntityID, err)
			}
			metrics.TransitionsRejected.WithLabelValues(string(decision.Reason)).Inc()
			slog.Info("transition rejected",
				"entity_id", entity.ID,
				"state", entity.CurrentState,
				"event", decision.EffectiveEvent,
				"reason", decision.Reason,
				"rationale", decision.Rationale)
			return decision, nil
		}

		applied, err := e.ApplyTransition(ctx, entity, decision, ev)
		if err != nil {
			if IsStaleState(err) && attempt < staleRetries {
				slog.Debug("entity moved during apply, re-deciding",
					"entity_id", ev.EntityID)
				continue
			}
			return decision, err
		}
		return applied, nil
	}
}

// priorDecision reconstructs the decision a prior processing of the same
// event produced, from its transition record.
func priorDecision(ev funnel.DetectedEvent, rec funnel.TransitionRecord) funnel.TransitionDecision {
	return funnel.TransitionDecision{
		EntityID:       rec.EntityID,
		From:           rec.FromState,
		To:             rec.ToState,
		Event:          ev.Type,
		EffectiveEvent: rec.EffectiveEvent,
		EventKey:       rec.EventKey,
		Allowed:        true,
		Replayed:       true,
		Seq:            rec.Seq,
		Rationale:      "replayed from transition log",
	}
}
