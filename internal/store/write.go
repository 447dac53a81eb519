package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// ErrStaleEntityState reports that an entity's current state no longer
// matches the state a transition decision was made against. Callers
// re-read the entity and re-decide.
var ErrStaleEntityState = errors.New("entity state changed since decision")

// RegisterEntity inserts an entity row if it does not exist yet.
// Returns whether a new row was inserted; an existing row is left
// untouched, including its current state.
func (s *Store) RegisterEntity(ctx context.Context, e funnel.Entity) (bool, error) {
	if e.ID == "" {
		return false, fmt.Errorf("register entity: empty id")
	}
	if !funnel.ValidEntityKinds[e.Kind] {
		return false, fmt.Errorf("register entity %q: unknown kind %q", e.ID, e.Kind)
	}

	result, err := s.exec(ctx, `
		INSERT INTO entities
		(id, kind, current_state, funnel_membership, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		string(e.Kind),
		string(e.CurrentState),
		e.FunnelMembership,
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("register entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register entity: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// WriteEvent inserts a detected event record.
// Uses ON CONFLICT(idempotency_key) DO NOTHING - re-detecting the same
// business fact is silently ignored and inserted=false is returned.
//
// Note: The entity referenced by EntityID must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, ev funnel.DetectedEvent) (inserted bool, err error) {
	if ev.IdempotencyKey == "" {
		return false, fmt.Errorf("write event: empty idempotency key")
	}

	metadataJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	result, err := s.exec(ctx, `
		INSERT INTO events
		(idempotency_key, entity_id, event_type, occurred_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		ev.IdempotencyKey,
		ev.EntityID,
		string(ev.Type),
		formatTime(ev.OccurredAt),
		metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// HasEvent checks whether an event with the given idempotency key exists.
func (s *Store) HasEvent(ctx context.Context, idempotencyKey string) (bool, error) {
	row, err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE idempotency_key = ?
	`, idempotencyKey)
	if err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	return count > 0, nil
}

// ApplyTransitionAtomic atomically records a detected event and its
// transition, then advances the entity's current state, all in a single
// transaction.
//
// Returns:
//   - applied: the transition record as persisted (the prior record when
//     the event was already processed)
//   - inserted: true if this call claimed the transition, false on replay
//   - error: ErrStaleEntityState (wrapped) when the entity moved on since
//     the decision was made, or any storage error
//
// The UNIQUE(event_key) constraint is the claim: when two calls race on
// the same event, exactly one inserts and the loser reads the winner's
// record back. The state advance is a conditional UPDATE guarded by the
// expected from-state, so a decision made against a stale read can never
// clobber a newer state.
func (s *Store) ApplyTransitionAtomic(
	ctx context.Context,
	ev funnel.DetectedEvent,
	rec funnel.TransitionRecord,
) (applied funnel.TransitionRecord, inserted bool, err error) {
	const (
		insertEventSQL = `
		INSERT INTO events
		(idempotency_key, entity_id, event_type, occurred_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`

		insertRecordSQL = `
		INSERT INTO transition_records
		(seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_key) DO NOTHING`

		selectRecordSQL = `
		SELECT id, seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at
		FROM transition_records
		WHERE event_key = ?`

		advanceStateSQL = `
		UPDATE entities
		SET current_state = ?, updated_at = ?
		WHERE id = ? AND current_state = ?`
	)

	if err := s.authorizeAll(insertEventSQL, insertRecordSQL, selectRecordSQL, advanceStateSQL); err != nil {
		return funnel.TransitionRecord{}, false, err
	}

	metadataJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Step 1: Record the event. Idempotent; on replay the row is already there.
	_, err = tx.ExecContext(ctx, insertEventSQL,
		ev.IdempotencyKey,
		ev.EntityID,
		string(ev.Type),
		formatTime(ev.OccurredAt),
		metadataJSON,
	)
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: write event: %w", err)
	}

	// Step 2: Claim the transition via UNIQUE(event_key).
	result, err := tx.ExecContext(ctx, insertRecordSQL,
		rec.Seq,
		rec.EntityID,
		string(rec.FromState),
		string(rec.ToState),
		rec.EventKey,
		string(rec.EffectiveEvent),
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: insert record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Replay - surface the prior decision unchanged.
		row := tx.QueryRowContext(ctx, selectRecordSQL, rec.EventKey)
		prior, err := scanTransitionRecord(row)
		if err != nil {
			return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: select existing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: commit (existing): %w", err)
		}
		return prior, false, nil
	}

	recordID, err := result.LastInsertId()
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: last insert id: %w", err)
	}

	// Step 3: Advance the entity, but only from the state the decision saw.
	result, err = tx.ExecContext(ctx, advanceStateSQL,
		string(rec.ToState),
		formatTime(rec.RecordedAt),
		rec.EntityID,
		string(rec.FromState),
	)
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: advance state: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// The tx rolls back: neither the claim nor the event insert survive.
		return funnel.TransitionRecord{}, false,
			fmt.Errorf("apply transition: entity %q not in state %q: %w",
				rec.EntityID, rec.FromState, ErrStaleEntityState)
	}

	if err := tx.Commit(); err != nil {
		return funnel.TransitionRecord{}, false, fmt.Errorf("apply transition: commit: %w", err)
	}

	rec.ID = recordID
	return rec, true, nil
}

// WritePressureSignal inserts a scoring input row and returns its ID.
// Signals are append-only; there is no update path.
//
// Note: The entity referenced by EntityID must exist (foreign key constraint).
func (s *Store) WritePressureSignal(ctx context.Context, sig funnel.PressureSignal) (int64, error) {
	if sig.DecayPeriodDays <= 0 {
		return 0, fmt.Errorf("write pressure signal: decay period must be positive, got %d", sig.DecayPeriodDays)
	}

	result, err := s.exec(ctx, `
		INSERT INTO pressure_signals
		(entity_id, source, impact_weight, decay_period_days, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		sig.EntityID,
		sig.Source,
		sig.ImpactWeight,
		sig.DecayPeriodDays,
		formatTime(sig.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("write pressure signal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write pressure signal: last insert id: %w", err)
	}
	return id, nil
}

// WriteCompositeScore upserts the current score row for an entity.
// Recomputes overwrite in place; there is exactly one row per entity.
func (s *Store) WriteCompositeScore(ctx context.Context, cs funnel.CompositeScore) error {
	_, err := s.exec(ctx, `
		INSERT INTO composite_scores
		(entity_id, score, tier, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			score = excluded.score,
			tier = excluded.tier,
			computed_at = excluded.computed_at
	`,
		cs.EntityID,
		cs.Score,
		string(cs.Tier),
		formatTime(cs.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("write composite score: %w", err)
	}
	return nil
}

// SetSlot upserts a slot-fill row for a company. Slot rows normally arrive
// from external slot-fill pipelines; this writer exists for ingestion and
// tests.
func (s *Store) SetSlot(ctx context.Context, slot funnel.SlotRequirement) error {
	filled := 0
	if slot.Filled {
		filled = 1
	}

	_, err := s.exec(ctx, `
		INSERT INTO slot_requirements
		(company_id, slot_name, filled, filled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id, slot_name) DO UPDATE SET
			filled = excluded.filled,
			filled_at = excluded.filled_at
	`,
		slot.CompanyID,
		slot.SlotName,
		filled,
		formatNullableTime(slot.FilledAt),
	)
	if err != nil {
		return fmt.Errorf("set slot: %w", err)
	}
	return nil
}
