// Package store provides SQLite-backed durable storage for the outreach
// funnel core.
//
// The store implements an append-only log with:
//   - Entities: funnel participants (contacts and companies)
//   - Events: detected facts, keyed by content-addressed idempotency key
//   - Transition Records: realized state changes (with event-level idempotency)
//   - Pressure Signals / Composite Scores: scoring inputs and derived scores
//   - Slot Requirements: slot-fill rows read by the completion gate
//
// # Idempotency
//
// PRIMARY KEY(idempotency_key) on events and UNIQUE(event_key) on
// transition_records make re-processing a detected event a no-op that
// surfaces the prior row instead of inserting a duplicate.
//
// # Identity and time
//
// Transition ordering uses seq INTEGER, a logical clock, never timestamps.
// Persisted timestamps use a fixed-width UTC layout so lexicographic TEXT
// comparison matches chronological order.
//
// # Determinism
//
// List queries include ORDER BY seq ASC, id ASC (or COLLATE BINARY on text
// keys) so identical databases always read back identically.
//
// # Access control
//
// When opened WithGuard, every SQL statement is authorized against the
// schema ownership map before execution; denial aborts the call.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// All content-addressed keys are computed via functions in
// internal/funnel/hash.go using RFC 8785 canonical JSON and SHA-256 with
// domain separation.
package store
