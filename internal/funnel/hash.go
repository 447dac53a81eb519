package funnel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-addressed identity. The trailing version
// segment leaves room to rotate the construction without colliding with
// keys already persisted.
const (
	DomainEvent      = "outreach/event/v1"
	DomainDefinition = "outreach/definition/v1"
	DomainTrace      = "outreach/trace/v1"
)

// hashWithDomain returns hex SHA-256 over domain || 0x00 || data. The
// null byte keeps a domain's tail from blurring into the payload head.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventKey computes the content-addressed idempotency key for a detected
// event. The key is stable across restarts and replays given the same
// business fields; it never incorporates random or machine-local input.
//
// Classification outcome is not an input: the key identifies what
// arrived, not how movement rules interpreted it, so swapping the
// classifier never re-keys history.
func EventKey(entityID string, eventType EventType, occurredAt time.Time, metadata map[string]string) (string, error) {
	obj := map[string]any{
		"entity_id":   entityID,
		"event_type":  string(eventType),
		"occurred_at": occurredAt.UTC().Format(time.RFC3339Nano),
		"metadata":    metadata,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventKey: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventKey panics where EventKey would return an error. For test
// fixtures and other known-good inputs.
func MustEventKey(entityID string, eventType EventType, occurredAt time.Time, metadata map[string]string) string {
	key, err := EventKey(entityID, eventType, occurredAt, metadata)
	if err != nil {
		panic(err)
	}
	return key
}

// TraceDigest computes the content-addressed digest of a canonical trace
// serialization. Used by the conformance harness to fingerprint runs.
func TraceDigest(canonical []byte) string {
	return hashWithDomain(DomainTrace, canonical)
}
