package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// ReadEntity retrieves a single entity by ID.
// The returned error wraps sql.ErrNoRows when the entity does not exist.
func (s *Store) ReadEntity(ctx context.Context, id string) (funnel.Entity, error) {
	row, err := s.queryRow(ctx, `
		SELECT id, kind, current_state, funnel_membership, updated_at
		FROM entities
		WHERE id = ?
	`, id)
	if err != nil {
		return funnel.Entity{}, err
	}

	e, err := scanEntity(row)
	if err != nil {
		return funnel.Entity{}, fmt.Errorf("read entity %q: %w", id, err)
	}
	return e, nil
}

// ReadEntityIDs returns every entity ID, ordered for deterministic sweeps.
func (s *Store) ReadEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT id FROM entities
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read entity ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

// ReadEntities returns every entity, ordered by ID.
func (s *Store) ReadEntities(ctx context.Context) ([]funnel.Entity, error) {
	rows, err := s.query(ctx, `
		SELECT id, kind, current_state, funnel_membership, updated_at
		FROM entities
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	defer rows.Close()

	var entities []funnel.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	if entities == nil {
		entities = []funnel.Entity{}
	}

	return entities, nil
}

// ReadEvent retrieves a single event by idempotency key.
// The returned error wraps sql.ErrNoRows when no such event exists.
func (s *Store) ReadEvent(ctx context.Context, idempotencyKey string) (funnel.DetectedEvent, error) {
	row, err := s.queryRow(ctx, `
		SELECT idempotency_key, entity_id, event_type, occurred_at, metadata
		FROM events
		WHERE idempotency_key = ?
	`, idempotencyKey)
	if err != nil {
		return funnel.DetectedEvent{}, err
	}

	ev, err := scanEvent(row)
	if err != nil {
		return funnel.DetectedEvent{}, fmt.Errorf("read event %q: %w", idempotencyKey, err)
	}
	return ev, nil
}

// ReadEvents returns all events for an entity in chronological order.
// Ties on occurred_at break by key so the order is fully deterministic.
func (s *Store) ReadEvents(ctx context.Context, entityID string) ([]funnel.DetectedEvent, error) {
	rows, err := s.query(ctx, `
		SELECT idempotency_key, entity_id, event_type, occurred_at, metadata
		FROM events
		WHERE entity_id = ?
		ORDER BY occurred_at ASC, idempotency_key COLLATE BINARY ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []funnel.DetectedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []funnel.DetectedEvent{}
	}

	return events, nil
}

// ReadTransitionByEventKey retrieves the transition claimed by an event,
// if any. Returns found=false when the event produced no transition.
func (s *Store) ReadTransitionByEventKey(ctx context.Context, eventKey string) (funnel.TransitionRecord, bool, error) {
	row, err := s.queryRow(ctx, `
		SELECT id, seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at
		FROM transition_records
		WHERE event_key = ?
	`, eventKey)
	if err != nil {
		return funnel.TransitionRecord{}, false, err
	}

	rec, err := scanTransitionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return funnel.TransitionRecord{}, false, nil
	}
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("read transition for event %q: %w", eventKey, err)
	}
	return rec, true, nil
}

// ReadTransitions returns an entity's transition history in logical-clock
// order.
func (s *Store) ReadTransitions(ctx context.Context, entityID string) ([]funnel.TransitionRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at
		FROM transition_records
		WHERE entity_id = ?
		ORDER BY seq ASC, id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("read transitions: %w", err)
	}
	defer rows.Close()

	return collectTransitions(rows)
}

// ReadAllTransitions returns the full transition log in logical-clock order.
func (s *Store) ReadAllTransitions(ctx context.Context) ([]funnel.TransitionRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at
		FROM transition_records
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read all transitions: %w", err)
	}
	defer rows.Close()

	return collectTransitions(rows)
}

// ReadSignals returns all pressure signals for an entity in insertion order.
func (s *Store) ReadSignals(ctx context.Context, entityID string) ([]funnel.PressureSignal, error) {
	rows, err := s.query(ctx, `
		SELECT id, entity_id, source, impact_weight, decay_period_days, created_at
		FROM pressure_signals
		WHERE entity_id = ?
		ORDER BY id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	defer rows.Close()

	var signals []funnel.PressureSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}

	if signals == nil {
		signals = []funnel.PressureSignal{}
	}

	return signals, nil
}

// ReadCompositeScore retrieves the current score row for an entity.
// Returns found=false when the entity has never been scored.
func (s *Store) ReadCompositeScore(ctx context.Context, entityID string) (funnel.CompositeScore, bool, error) {
	row, err := s.queryRow(ctx, `
		SELECT entity_id, score, tier, computed_at
		FROM composite_scores
		WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return funnel.CompositeScore{}, false, err
	}

	cs, err := scanCompositeScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return funnel.CompositeScore{}, false, nil
	}
	if err != nil {
		return funnel.CompositeScore{}, false, fmt.Errorf("read composite score for %q: %w", entityID, err)
	}
	return cs, true, nil
}

// ReadCompositeScores returns every score row, ordered by entity ID.
func (s *Store) ReadCompositeScores(ctx context.Context) ([]funnel.CompositeScore, error) {
	rows, err := s.query(ctx, `
		SELECT entity_id, score, tier, computed_at
		FROM composite_scores
		ORDER BY entity_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read composite scores: %w", err)
	}
	defer rows.Close()

	var scores []funnel.CompositeScore
	for rows.Next() {
		cs, err := scanCompositeScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate composite scores: %w", err)
	}

	if scores == nil {
		scores = []funnel.CompositeScore{}
	}

	return scores, nil
}

// ReadSlots returns all slot-fill rows for a company, ordered by slot name.
// A required slot with no row is simply absent here; the gate treats
// absence as unfilled.
func (s *Store) ReadSlots(ctx context.Context, companyID string) ([]funnel.SlotRequirement, error) {
	rows, err := s.query(ctx, `
		SELECT company_id, slot_name, filled, filled_at
		FROM slot_requirements
		WHERE company_id = ?
		ORDER BY slot_name COLLATE BINARY ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("read slots: %w", err)
	}
	defer rows.Close()

	var slots []funnel.SlotRequirement
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}

	if slots == nil {
		slots = []funnel.SlotRequirement{}
	}

	return slots, nil
}

// LatestEventAt returns the most recent occurred_at for an entity and event
// type. The fixed-width timestamp layout makes MAX on the TEXT column
// chronological. Returns found=false when no such event exists.
func (s *Store) LatestEventAt(ctx context.Context, entityID string, eventType funnel.EventType) (time.Time, bool, error) {
	row, err := s.queryRow(ctx, `
		SELECT MAX(occurred_at) FROM events
		WHERE entity_id = ? AND event_type = ?
	`, entityID, string(eventType))
	if err != nil {
		return time.Time{}, false, err
	}

	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("latest event at: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}

	t, err := parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest event at: %w", err)
	}
	return t, true, nil
}

// LastSeq returns the highest seq in the transition log.
// Used on startup to resume the logical clock from the correct position.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	row, err := s.queryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM transition_records
	`)
	if err != nil {
		return 0, err
	}

	var maxSeq int64
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return maxSeq, nil
}

func collectTransitions(rows *sql.Rows) ([]funnel.TransitionRecord, error) {
	var records []funnel.TransitionRecord
	for rows.Next() {
		rec, err := scanTransitionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	if records == nil {
		records = []funnel.TransitionRecord{}
	}

	return records, nil
}

// scanEntity scans a row into an Entity struct.
func scanEntity(sc scanner) (funnel.Entity, error) {
	var e funnel.Entity
	var kind, state, updatedAt string

	if err := sc.Scan(&e.ID, &kind, &state, &e.FunnelMembership, &updatedAt); err != nil {
		return funnel.Entity{}, err
	}

	e.Kind = funnel.EntityKind(kind)
	e.CurrentState = funnel.State(state)

	t, err := parseTime(updatedAt)
	if err != nil {
		return funnel.Entity{}, err
	}
	e.UpdatedAt = t

	return e, nil
}

// scanEvent scans a row into a DetectedEvent struct.
func scanEvent(sc scanner) (funnel.DetectedEvent, error) {
	var ev funnel.DetectedEvent
	var eventType, occurredAt, metadataJSON string

	if err := sc.Scan(&ev.IdempotencyKey, &ev.EntityID, &eventType, &occurredAt, &metadataJSON); err != nil {
		return funnel.DetectedEvent{}, err
	}

	ev.Type = funnel.EventType(eventType)

	t, err := parseTime(occurredAt)
	if err != nil {
		return funnel.DetectedEvent{}, err
	}
	ev.OccurredAt = t

	metadata, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return funnel.DetectedEvent{}, err
	}
	ev.Metadata = metadata

	return ev, nil
}

// scanTransitionRecord scans a row into a TransitionRecord struct.
func scanTransitionRecord(sc scanner) (funnel.TransitionRecord, error) {
	var rec funnel.TransitionRecord
	var fromState, toState, effectiveEvent, recordedAt string

	if err := sc.Scan(
		&rec.ID, &rec.Seq, &rec.EntityID, &fromState, &toState,
		&rec.EventKey, &effectiveEvent, &recordedAt,
	); err != nil {
		return funnel.TransitionRecord{}, err
	}

	rec.FromState = funnel.State(fromState)
	rec.ToState = funnel.State(toState)
	rec.EffectiveEvent = funnel.EventType(effectiveEvent)

	t, err := parseTime(recordedAt)
	if err != nil {
		return funnel.TransitionRecord{}, err
	}
	rec.RecordedAt = t

	return rec, nil
}

// scanSignal scans a row into a PressureSignal struct.
func scanSignal(sc scanner) (funnel.PressureSignal, error) {
	var sig funnel.PressureSignal
	var createdAt string

	if err := sc.Scan(
		&sig.ID, &sig.EntityID, &sig.Source, &sig.ImpactWeight,
		&sig.DecayPeriodDays, &createdAt,
	); err != nil {
		return funnel.PressureSignal{}, err
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return funnel.PressureSignal{}, err
	}
	sig.CreatedAt = t

	return sig, nil
}

// scanCompositeScore scans a row into a CompositeScore struct.
func scanCompositeScore(sc scanner) (funnel.CompositeScore, error) {
	var cs funnel.CompositeScore
	var tier, computedAt string

	if err := sc.Scan(&cs.EntityID, &cs.Score, &tier, &computedAt); err != nil {
		return funnel.CompositeScore{}, err
	}

	cs.Tier = funnel.Tier(tier)

	t, err := parseTime(computedAt)
	if err != nil {
		return funnel.CompositeScore{}, err
	}
	cs.ComputedAt = t

	return cs, nil
}

// scanSlot scans a row into a SlotRequirement struct.
func scanSlot(sc scanner) (funnel.SlotRequirement, error) {
	var slot funnel.SlotRequirement
	var filled int
	var filledAt sql.NullString

	if err := sc.Scan(&slot.CompanyID, &slot.SlotName, &filled, &filledAt); err != nil {
		return funnel.SlotRequirement{}, err
	}

	slot.Filled = filled != 0

	if filledAt.Valid {
		t, err := parseTime(filledAt.String)
		if err != nil {
			return funnel.SlotRequirement{}, err
		}
		slot.FilledAt = &t
	}

	return slot, nil
}
