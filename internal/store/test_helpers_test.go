package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// createTestStore creates a file-backed store under a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns a fixed base instant so tests are reproducible.
func testTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

// createTestEntity creates an entity with minimal required fields.
func createTestEntity(id string, kind funnel.EntityKind, state funnel.State) funnel.Entity {
	return funnel.Entity{
		ID:           id,
		Kind:         kind,
		CurrentState: state,
		UpdatedAt:    testTime(),
	}
}

// createTestEvent creates an event with its computed idempotency key.
func createTestEvent(t *testing.T, entityID string, eventType funnel.EventType, occurredAt time.Time, metadata map[string]string) funnel.DetectedEvent {
	t.Helper()
	key, err := funnel.EventKey(entityID, eventType, occurredAt, metadata)
	if err != nil {
		t.Fatalf("EventKey() failed: %v", err)
	}
	return funnel.DetectedEvent{
		EntityID:       entityID,
		Type:           eventType,
		OccurredAt:     occurredAt,
		IdempotencyKey: key,
		Metadata:       metadata,
	}
}

// createTestRecord creates a transition record claiming the given event.
func createTestRecord(ev funnel.DetectedEvent, seq int64, from, to funnel.State) funnel.TransitionRecord {
	return funnel.TransitionRecord{
		Seq:            seq,
		EntityID:       ev.EntityID,
		FromState:      from,
		ToState:        to,
		EventKey:       ev.IdempotencyKey,
		EffectiveEvent: ev.Type,
		RecordedAt:     ev.OccurredAt,
	}
}

// mustRegister registers an entity or fails the test.
func mustRegister(t *testing.T, s *Store, e funnel.Entity) {
	t.Helper()
	if _, err := s.RegisterEntity(context.Background(), e); err != nil {
		t.Fatalf("RegisterEntity(%s) failed: %v", e.ID, err)
	}
}
