// Package scoring implements the buyer-intent scoring engine.
//
// Every entity accumulates pressure signals (job postings, funding events,
// site visits) whose influence decays linearly with age. The composite
// score is the sum of decay-weighted signal impacts at a single observation
// instant, banded into tiers by the funnel definition's thresholds.
//
// ARCHITECTURE:
//
// Derived State:
// Composite scores are never authoritative. The pressure_signals table is
// the source of truth; each recompute rebuilds the composite from the full
// signal set, so a lost or stale score row costs nothing but a recompute.
//
// Recompute Triggers:
// 1. RecordSignal - insert plus recompute in one call
// 2. Sweep - batch recompute over all entities (pure decay advances)
// 3. Score - stale read detected internally, recomputed before returning
//
// A staleness bound (WithMaxStaleness) keeps reads cheap without letting
// decay drift unbounded: scores younger than the bound are served as-is.
//
// Sweep Parallelism:
// Entities decay independently, so Sweep fans recomputes across a
// fixed-size worker pool. Workers share only the jobs channel; each
// recompute is one read plus one upsert through the store. Per-entity
// failures land in the SweepReport instead of aborting the batch.
package scoring
