// Package funnel provides the core domain model for the outreach funnel.
//
// This package contains type definitions and pure functions only. All other
// internal packages import funnel; funnel imports nothing internal. This
// keeps the domain model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Transitions are resolved from the definition's table and nowhere else
//   - Canonical JSON (MarshalCanonical) is the only serialization used for
//     idempotency keys and definition hashes
//   - Timestamps are UTC; record ordering uses the logical clock seq,
//     never wall-clock comparison
//   - All JSON tags use snake_case
package funnel
