// Package movement implements the funnel movement engine.
//
// The engine is the only writer of entity state. It receives raw events
// from ingestion adapters, normalizes them into content-addressed
// DetectedEvents, resolves ambiguity through the movement rules (reply
// classification, talent-flow corroboration), consults the definition's
// transition table, evaluates edge preconditions (slot gate, minimum
// tier, outreach cooldown), and persists allowed transitions atomically.
//
// ARCHITECTURE:
//
// Detection and Identity:
// DetectEvent computes the idempotency key from the stable business
// fields via canonical JSON, after alias normalization. The same physical
// event always produces the same key; the classifier's verdict is not an
// input, so replays stay stable across classifier changes.
//
// Structural Idempotency:
// Replay is not a mode. ProcessEvent first answers re-deliveries from the
// transition log; past that, the store's claim insert (UNIQUE on the
// event key) decides races. Either path returns the prior decision with
// Replayed set and no error. Only applied events replay; a rejected event
// re-evaluates on redelivery, since the conditions that rejected it may
// have cleared.
//
// Ordering:
// Applied transitions are stamped with a monotonic seq from the logical
// clock (resumed from the log tail via Resume). Ordering questions are
// answered by seq, never by wall-clock timestamps.
//
// Rejections:
// A rejection is a decision, not an error. The event row is still
// written for the audit trail and entity state is untouched; the
// decision carries the reject reason and rationale. Typed *Error values
// surface only for unknown entities, lost state races, and misuse.
package movement
