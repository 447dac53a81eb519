package movement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable wall clock shared by the movement and scoring
// engines under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testEpoch)
	def := funnel.DefaultDefinition()
	scorer := scoring.New(s, def, scoring.WithClock(clock.Now))
	g := gate.New(s, def)
	opts = append([]Option{WithWallClock(clock.Now)}, opts...)
	return New(s, def, rules.NewKeywordClassifier(), scorer, g, opts...), clock
}

func registerEntity(t *testing.T, s *store.Store, id string, kind funnel.EntityKind, state funnel.State) funnel.Entity {
	t.Helper()
	e := funnel.Entity{ID: id, Kind: kind, CurrentState: state, UpdatedAt: testEpoch}
	_, err := s.RegisterEntity(context.Background(), e)
	require.NoError(t, err)
	return e
}

func writeSignal(t *testing.T, s *store.Store, entityID string, weight float64) {
	t.Helper()
	_, err := s.WritePressureSignal(context.Background(), funnel.PressureSignal{
		EntityID:        entityID,
		Source:          "test_fixture",
		ImpactWeight:    weight,
		DecayPeriodDays: 30,
		CreatedAt:       testEpoch,
	})
	require.NoError(t, err)
}

func fillSlots(t *testing.T, s *store.Store, companyID string, names ...string) {
	t.Helper()
	at := testEpoch
	for _, name := range names {
		err := s.SetSlot(context.Background(), funnel.SlotRequirement{
			CompanyID: companyID,
			SlotName:  name,
			Filled:    true,
			FilledAt:  &at,
		})
		require.NoError(t, err)
	}
}

func rawAt(entityID, eventType string, at time.Time, md map[string]string) RawEvent {
	return RawEvent{EntityID: entityID, Type: eventType, OccurredAt: at, Metadata: md}
}

// --- DetectEvent ---

func TestEngine_DetectEventNormalizesAliases(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	tests := []struct {
		raw  string
		want funnel.EventType
	}{
		{"reply", funnel.EventReplyReceived},
		{"Reply.Received", funnel.EventReplyReceived},
		{" unsubscribe ", funnel.EventReplyUnsubscribe},
		{"email.sent", funnel.EventOutreachSent},
		{"enriched", funnel.EventEnrichmentCompleted},
		{"talent_move", funnel.EventTalentVerifiedMove},
		{"meeting.booked", funnel.EventMeetingBooked},
	}

	for _, tt := range tests {
		ev, err := eng.DetectEvent(rawAt("contact-1", tt.raw, testEpoch, nil))
		require.NoError(t, err, "type %q", tt.raw)
		assert.Equal(t, tt.want, ev.Type, "type %q", tt.raw)
		assert.NotEmpty(t, ev.IdempotencyKey)
	}
}

func TestEngine_DetectEventAliasSharesKeyWithCanonical(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	md := map[string]string{"body": "hello"}

	aliased, err := eng.DetectEvent(rawAt("contact-1", "reply", testEpoch, md))
	require.NoError(t, err)
	canonical, err := eng.DetectEvent(rawAt("contact-1", "reply.received", testEpoch, md))
	require.NoError(t, err)

	assert.Equal(t, canonical.IdempotencyKey, aliased.IdempotencyKey)
}

func TestEngine_DetectEventKeyIsStable(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	first, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch, nil))
	require.NoError(t, err)
	second, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch, nil))
	require.NoError(t, err)
	other, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch.Add(time.Hour), nil))
	require.NoError(t, err)

	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.NotEqual(t, first.IdempotencyKey, other.IdempotencyKey)
}

func TestEngine_DetectEventRejectsBadInput(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	_, err := eng.DetectEvent(rawAt("", "reply", testEpoch, nil))
	assert.Error(t, err)

	_, err = eng.DetectEvent(rawAt("contact-1", "carrier.pigeon", testEpoch, nil))
	assert.Error(t, err)

	_, err = eng.DetectEvent(rawAt("contact-1", "reply", time.Time{}, nil))
	assert.Error(t, err)
}

// --- DetermineNextState ---

func TestEngine_DetermineAllowsTableEdge(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.True(t, decision.ShouldPersist)
	assert.Equal(t, funnel.StateNew, decision.From)
	assert.Equal(t, funnel.StateQueued, decision.To)
	assert.Equal(t, funnel.EventEnrichmentCompleted, decision.EffectiveEvent)
}

func TestEngine_DetermineRejectsNoEdge(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "meeting.booked", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.False(t, decision.ShouldPersist)
	assert.Equal(t, funnel.ReasonNoEdge, decision.Reason)
}

func TestEngine_DetermineTerminalAbsorbs(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateDisqualified)

	ev, err := eng.DetectEvent(rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, funnel.ReasonTerminalState, decision.Reason)
}

func TestEngine_DetermineClassifiesRawReplies(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	tests := []struct {
		name          string
		state         funnel.State
		body          string
		wantEffective funnel.EventType
		wantAllowed   bool
		wantTo        funnel.State
		wantReason    funnel.RejectReason
	}{
		{"positive advances", funnel.StateContacted, "Sounds great, let's talk next week", funnel.EventReplyPositive, true, funnel.StateEngaged, funnel.ReasonNone},
		{"neutral advances", funnel.StateContacted, "who is this regarding?", funnel.EventReplyNeutral, true, funnel.StateEngaged, funnel.ReasonNone},
		{"negative parks", funnel.StateContacted, "not interested, thanks", funnel.EventReplyNegative, true, funnel.StateDormant, funnel.ReasonNone},
		{"unsubscribe disqualifies", funnel.StateContacted, "please unsubscribe me", funnel.EventReplyUnsubscribe, true, funnel.StateDisqualified, funnel.ReasonNone},
		{"ooo has no edge", funnel.StateContacted, "I am out of office until Monday", funnel.EventReplyOutOfOffice, false, "", funnel.ReasonNoEdge},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "contact-" + tt.name
			entity := registerEntity(t, s, id, funnel.KindContact, tt.state)

			ev, err := eng.DetectEvent(rawAt(id, "reply.received", testEpoch.Add(time.Duration(i)*time.Minute), map[string]string{"body": tt.body}))
			require.NoError(t, err)

			decision, err := eng.DetermineNextState(context.Background(), entity, ev)
			require.NoError(t, err)

			assert.Equal(t, funnel.EventReplyReceived, decision.Event)
			assert.Equal(t, tt.wantEffective, decision.EffectiveEvent)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if tt.wantAllowed {
				assert.Equal(t, tt.wantTo, decision.To)
			} else {
				assert.Equal(t, tt.wantReason, decision.Reason)
			}
			assert.NotEmpty(t, decision.Rationale)
		})
	}
}

func TestEngine_DetermineTalentCorroboration(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	tests := []struct {
		name        string
		md          map[string]string
		wantAllowed bool
	}{
		{"two sources corroborate", map[string]string{"sources": "news_feed,registry_scrape"}, true},
		{"verified filing alone", map[string]string{"verified_filing": "true"}, true},
		{"single source rejected", map[string]string{"sources": "news_feed"}, false},
		{"duplicate sources rejected", map[string]string{"sources": "news_feed, News_Feed"}, false},
		{"no metadata rejected", nil, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "contact-talent-" + tt.name
			entity := registerEntity(t, s, id, funnel.KindContact, funnel.StateContacted)

			ev, err := eng.DetectEvent(rawAt(id, "talent.verified_move", testEpoch.Add(time.Duration(i)*time.Minute), tt.md))
			require.NoError(t, err)

			decision, err := eng.DetermineNextState(context.Background(), entity, ev)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if tt.wantAllowed {
				assert.Equal(t, funnel.StateEngaged, decision.To)
			} else {
				assert.Equal(t, funnel.ReasonUncorroborated, decision.Reason)
			}
		})
	}
}

func TestEngine_DetermineCooldownBlocksOutreach(t *testing.T) {
	s := setupTestStore(t)
	eng, clock := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateQueued)

	// A touch one hour ago sits well inside the 72h default window.
	prior, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch.Add(-time.Hour), nil))
	require.NoError(t, err)
	_, err = s.WriteEvent(context.Background(), prior)
	require.NoError(t, err)

	ev, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, funnel.ReasonCooldownActive, decision.Reason)

	// The window slides from the last touch; once it elapses the same
	// edge opens up again.
	clock.Advance(73 * time.Hour)
	decision, err = eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, funnel.StateContacted, decision.To)
}

func TestEngine_DetermineCooldownFirstTouchAllowed(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateQueued)

	ev, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_DetermineCooldownDisabled(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s, WithCooldownWindow(0))
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateQueued)

	prior, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch.Add(-time.Minute), nil))
	require.NoError(t, err)
	_, err = s.WriteEvent(context.Background(), prior)
	require.NoError(t, err)

	ev, err := eng.DetectEvent(rawAt("contact-1", "outreach.sent", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_DetermineMinTierBlocksMeeting(t *testing.T) {
	s := setupTestStore(t)
	eng, clock := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateEngaged)

	ev, err := eng.DetectEvent(rawAt("contact-1", "meeting.booked", testEpoch, nil))
	require.NoError(t, err)

	// No signals: composite 0, COLD, below the WARM floor.
	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, funnel.ReasonTierBelowMin, decision.Reason)

	// A fresh signal lifts the tier; advance past the staleness bound so
	// the scorer recomputes instead of serving the stored COLD row.
	writeSignal(t, s, "contact-1", 30)
	clock.Advance(16 * time.Minute)

	decision, err = eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, funnel.StateQualified, decision.To)
}

func TestEngine_DetermineGateBlocksCompanyHandoff(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "acme", funnel.KindCompany, funnel.StateQualified)
	writeSignal(t, s, "acme", 85)

	ev, err := eng.DetectEvent(rawAt("acme", "handoff.accepted", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, funnel.ReasonGateIncomplete, decision.Reason)
	assert.Contains(t, decision.Rationale, "budget_holder")

	fillSlots(t, s, "acme", "decision_maker", "budget_holder", "champion")

	decision, err = eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, funnel.StateConverted, decision.To)
}

func TestEngine_DetermineGateBeforeTier(t *testing.T) {
	// Both preconditions would fail; the gate is evaluated first, so its
	// reason is the one reported.
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "acme", funnel.KindCompany, funnel.StateQualified)

	ev, err := eng.DetectEvent(rawAt("acme", "handoff.accepted", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.Equal(t, funnel.ReasonGateIncomplete, decision.Reason)
}

func TestEngine_DetermineGateSkippedForContacts(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateQualified)
	writeSignal(t, s, "contact-1", 85)

	ev, err := eng.DetectEvent(rawAt("contact-1", "handoff.accepted", testEpoch, nil))
	require.NoError(t, err)

	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "contacts carry no slot roster; the gate must not apply")
}

// --- ApplyTransition ---

func TestEngine_ApplyPersistsTransition(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)
	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	applied, err := eng.ApplyTransition(context.Background(), entity, decision, ev)
	require.NoError(t, err)

	assert.Equal(t, int64(1), applied.Seq)
	assert.False(t, applied.Replayed)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateQueued, stored.CurrentState)

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ev.IdempotencyKey, recs[0].EventKey)
}

func TestEngine_ApplyRejectedDecisionErrors(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "meeting.booked", testEpoch, nil))
	require.NoError(t, err)
	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	_, err = eng.ApplyTransition(context.Background(), entity, decision, ev)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidTransition, code)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateNew, stored.CurrentState)
}

func TestEngine_ApplyReplayReturnsPrior(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)
	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	first, err := eng.ApplyTransition(context.Background(), entity, decision, ev)
	require.NoError(t, err)

	// Second apply with a fresh decision for the same key: the claim
	// already exists, so the prior outcome comes back unchanged.
	second, err := eng.ApplyTransition(context.Background(), entity, decision, ev)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.From, second.From)
	assert.Equal(t, first.To, second.To)

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEngine_ApplyStaleStateTyped(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	entity := registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	ev, err := eng.DetectEvent(rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)
	decision, err := eng.DetermineNextState(context.Background(), entity, ev)
	require.NoError(t, err)

	// Another event advances the entity between decision and apply.
	_, err = eng.ProcessEvent(context.Background(), rawAt("contact-1", "enrichment.completed", testEpoch.Add(time.Minute), nil))
	require.NoError(t, err)

	_, err = eng.ApplyTransition(context.Background(), entity, decision, ev)
	assert.True(t, IsStaleState(err))

	// The losing write left nothing behind.
	has, err := s.HasEvent(context.Background(), ev.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, has)
}

// --- ProcessEvent ---

func TestEngine_ProcessEventFullPath(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)
	writeSignal(t, s, "contact-1", 85)

	steps := []struct {
		raw      RawEvent
		wantTo   funnel.State
		wantSeq  int64
		wantEffe funnel.EventType
	}{
		{rawAt("contact-1", "enrichment.completed", testEpoch.Add(1*time.Minute), nil), funnel.StateQueued, 1, funnel.EventEnrichmentCompleted},
		{rawAt("contact-1", "outreach.sent", testEpoch.Add(2*time.Minute), nil), funnel.StateContacted, 2, funnel.EventOutreachSent},
		{rawAt("contact-1", "reply.received", testEpoch.Add(3*time.Minute), map[string]string{"body": "sounds good, tell me more"}), funnel.StateEngaged, 3, funnel.EventReplyPositive},
		{rawAt("contact-1", "meeting.booked", testEpoch.Add(4*time.Minute), nil), funnel.StateQualified, 4, funnel.EventMeetingBooked},
		{rawAt("contact-1", "handoff.accepted", testEpoch.Add(5*time.Minute), nil), funnel.StateConverted, 5, funnel.EventHandoffAccepted},
	}

	for _, step := range steps {
		decision, err := eng.ProcessEvent(context.Background(), step.raw)
		require.NoError(t, err, "event %s", step.raw.Type)
		assert.True(t, decision.Allowed, "event %s", step.raw.Type)
		assert.Equal(t, step.wantTo, decision.To, "event %s", step.raw.Type)
		assert.Equal(t, step.wantSeq, decision.Seq, "event %s", step.raw.Type)
		assert.Equal(t, step.wantEffe, decision.EffectiveEvent, "event %s", step.raw.Type)
	}

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateConverted, stored.CurrentState)

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestEngine_ProcessEventRejectionAudited(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	raw := rawAt("contact-1", "meeting.booked", testEpoch, nil)
	decision, err := eng.ProcessEvent(context.Background(), raw)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, funnel.ReasonNoEdge, decision.Reason)

	// The event row lands even though nothing moved.
	ev, err := eng.DetectEvent(raw)
	require.NoError(t, err)
	has, err := s.HasEvent(context.Background(), ev.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, has)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateNew, stored.CurrentState)

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEngine_ProcessEventUnknownEntity(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)

	_, err := eng.ProcessEvent(context.Background(), rawAt("ghost", "enrichment.completed", testEpoch, nil))
	assert.True(t, IsUnknownEntity(err))
}

func TestEngine_ProcessEventReplaysPriorDecision(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	raw := rawAt("contact-1", "enrichment.completed", testEpoch, nil)

	first, err := eng.ProcessEvent(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := eng.ProcessEvent(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.True(t, second.Allowed)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.To, second.To)

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEngine_ProcessRejectedEventReevaluatesOnRedelivery(t *testing.T) {
	// Only applied events replay from the log. A rejected event gets a
	// fresh evaluation on redelivery, since the blocking condition may
	// have cleared in the meantime.
	s := setupTestStore(t)
	eng, clock := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateEngaged)

	raw := rawAt("contact-1", "meeting.booked", testEpoch, nil)

	decision, err := eng.ProcessEvent(context.Background(), raw)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, funnel.ReasonTierBelowMin, decision.Reason)

	writeSignal(t, s, "contact-1", 30)
	clock.Advance(16 * time.Minute)

	decision, err = eng.ProcessEvent(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.False(t, decision.Replayed)
	assert.Equal(t, funnel.StateQualified, decision.To)
}

func TestEngine_ProcessEventConcurrentSameKey(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	raw := rawAt("contact-1", "enrichment.completed", testEpoch, nil)
	const n = 8

	var wg sync.WaitGroup
	decisions := make(chan funnel.TransitionDecision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := eng.ProcessEvent(context.Background(), raw)
			assert.NoError(t, err)
			decisions <- d
		}()
	}
	wg.Wait()
	close(decisions)

	applied := 0
	for d := range decisions {
		assert.True(t, d.Allowed)
		assert.Equal(t, funnel.StateQueued, d.To)
		if !d.Replayed {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one caller wins the claim")

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateQueued, stored.CurrentState)
}

func TestEngine_ProcessEventConcurrentDifferentEvents(t *testing.T) {
	// Two different events race on one entity. The loser of the state
	// race re-decides against the fresh state, so both settle without
	// error and the log stays consistent.
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateContacted)

	negative := rawAt("contact-1", "reply.negative", testEpoch, nil)
	talent := rawAt("contact-1", "talent.verified_move", testEpoch, map[string]string{"sources": "news_feed,registry_scrape"})

	var wg sync.WaitGroup
	results := make(chan funnel.TransitionDecision, 2)
	for _, raw := range []RawEvent{negative, talent} {
		wg.Add(1)
		go func(r RawEvent) {
			defer wg.Done()
			d, err := eng.ProcessEvent(context.Background(), r)
			assert.NoError(t, err)
			results <- d
		}(raw)
	}
	wg.Wait()
	close(results)

	for d := range results {
		assert.True(t, d.Allowed)
	}

	recs, err := s.ReadTransitions(context.Background(), "contact-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Less(t, recs[0].Seq, recs[1].Seq)

	// The chain must link regardless of which event won.
	assert.Equal(t, recs[0].ToState, recs[1].FromState)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, recs[1].ToState, stored.CurrentState)
}

func TestEngine_UnsubscribeDisqualifiesThenAbsorbs(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateEngaged)

	decision, err := eng.ProcessEvent(context.Background(), rawAt("contact-1", "reply.received", testEpoch, map[string]string{"body": "please unsubscribe me from this list"}))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	assert.Equal(t, funnel.EventReplyUnsubscribe, decision.EffectiveEvent)
	assert.Equal(t, funnel.StateDisqualified, decision.To)

	// Terminal states absorb everything that follows.
	later, err := eng.ProcessEvent(context.Background(), rawAt("contact-1", "enrichment.completed", testEpoch.Add(time.Hour), nil))
	require.NoError(t, err)
	assert.False(t, later.Allowed)
	assert.Equal(t, funnel.ReasonTerminalState, later.Reason)

	stored, err := s.ReadEntity(context.Background(), "contact-1")
	require.NoError(t, err)
	assert.Equal(t, funnel.StateDisqualified, stored.CurrentState)
}

func TestEngine_ResumeContinuesSeq(t *testing.T) {
	s := setupTestStore(t)
	eng, _ := newTestEngine(t, s)
	registerEntity(t, s, "contact-1", funnel.KindContact, funnel.StateNew)

	_, err := eng.ProcessEvent(context.Background(), rawAt("contact-1", "enrichment.completed", testEpoch, nil))
	require.NoError(t, err)
	_, err = eng.ProcessEvent(context.Background(), rawAt("contact-1", "outreach.sent", testEpoch.Add(time.Minute), nil))
	require.NoError(t, err)

	// A new engine over the same store must not reissue seq 1.
	fresh, _ := newTestEngine(t, s)
	require.NoError(t, fresh.Resume(context.Background()))
	assert.Equal(t, int64(2), fresh.Seq())

	decision, err := fresh.ProcessEvent(context.Background(), rawAt("contact-1", "reply.positive", testEpoch.Add(2*time.Minute), nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), decision.Seq)
}
