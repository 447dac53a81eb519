package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/metrics"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// Recompute triggers, used as log fields and metric labels.
const (
	triggerRecord    = "record"
	triggerSweep     = "sweep"
	triggerStaleRead = "stale_read"
)

// DefaultMaxStaleness is how old a stored composite score may be before
// Score recomputes it instead of returning it as-is.
const DefaultMaxStaleness = 15 * time.Minute

// DefaultSweepWorkers is the sweep pool size when WithSweepWorkers is not set.
const DefaultSweepWorkers = 4

// Engine computes and persists decay-weighted composite scores.
//
// Scores are derived state: the pressure_signals table is the source of
// truth, and every recompute rebuilds the composite from the full signal
// set as of a single observation instant. The engine never mutates
// signals, so concurrent recomputes of the same entity are safe; the
// later computed_at simply wins.
//
// Thread-safety: all methods are safe for concurrent use. The engine
// itself holds no mutable state; persistence goes through the store.
type Engine struct {
	store        *store.Store
	def          *funnel.Definition
	now          func() time.Time
	runToken     func() string
	maxStaleness time.Duration
	sweepWorkers int
}

// Option configures an Engine during New.
type Option func(*Engine)

// WithClock replaces the engine's time source. Tests pass a fixed or
// stepping clock to make decay arithmetic deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxStaleness sets how old a stored score may be before Score
// recomputes it. Zero means every Score call recomputes.
func WithMaxStaleness(d time.Duration) Option {
	return func(e *Engine) {
		e.maxStaleness = d
	}
}

// WithSweepWorkers sets the sweep pool size. Values below 1 are ignored.
func WithSweepWorkers(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.sweepWorkers = n
		}
	}
}

// WithRunTokens replaces the sweep run token source. The default mints a
// fresh UUIDv7 per run; harness scenarios inject a fixed token so golden
// traces stay byte-stable.
func WithRunTokens(gen func() string) Option {
	return func(e *Engine) {
		e.runToken = gen
	}
}

// New creates a scoring engine backed by the given store, banding scores
// with the definition's tier thresholds.
func New(s *store.Store, def *funnel.Definition, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		def:          def,
		now:          time.Now,
		runToken:     func() string { return uuid.Must(uuid.NewV7()).String() },
		maxStaleness: DefaultMaxStaleness,
		sweepWorkers: DefaultSweepWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordSignal persists one pressure signal and immediately recomputes
// the entity's composite score, returning the fresh score. A zero
// CreatedAt is stamped with the engine clock before the write.
func (e *Engine) RecordSignal(ctx context.Context, sig funnel.PressureSignal) (funnel.CompositeScore, error) {
	if sig.EntityID == "" {
		return funnel.CompositeScore{}, fmt.Errorf("record signal: empty entity id")
	}
	if sig.Source == "" {
		return funnel.CompositeScore{}, fmt.Errorf("record signal %s: empty source", sig.EntityID)
	}
	if sig.DecayPeriodDays <= 0 {
		return funnel.CompositeScore{}, fmt.Errorf("record signal %s: decay period must be positive, got %d", sig.EntityID, sig.DecayPeriodDays)
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = e.now()
	}

	id, err := e.store.WritePressureSignal(ctx, sig)
	if err != nil {
		return funnel.CompositeScore{}, fmt.Errorf("record signal %s: %w", sig.EntityID, err)
	}
	metrics.SignalsRecorded.Inc()

	slog.Debug("signal recorded",
		"entity_id", sig.EntityID,
		"signal_id", id,
		"source", sig.Source,
		"impact_weight", sig.ImpactWeight,
		"decay_period_days", sig.DecayPeriodDays)

	return e.recompute(ctx, sig.EntityID, triggerRecord)
}

// Score returns the entity's composite score, recomputing first when the
// stored row is missing or older than the staleness bound. Callers always
// get a score; staleness is an internal concern, never an error.
func (e *Engine) Score(ctx context.Context, entityID string) (funnel.CompositeScore, error) {
	if entityID == "" {
		return funnel.CompositeScore{}, fmt.Errorf("score: empty entity id")
	}

	cs, found, err := e.store.ReadCompositeScore(ctx, entityID)
	if err != nil {
		return funnel.CompositeScore{}, fmt.Errorf("score %s: %w", entityID, err)
	}
	if found && e.now().Sub(cs.ComputedAt) <= e.maxStaleness {
		return cs, nil
	}
	return e.recompute(ctx, entityID, triggerStaleRead)
}

// Recompute forces a fresh composite for the entity regardless of the
// stored row's age.
func (e *Engine) Recompute(ctx context.Context, entityID string) (funnel.CompositeScore, error) {
	if entityID == "" {
		return funnel.CompositeScore{}, fmt.Errorf("recompute: empty entity id")
	}
	return e.recompute(ctx, entityID, triggerStaleRead)
}

// recompute rebuilds the composite from the entity's full signal set at a
// single clock observation and persists the result. Zero signals produce
// score 0 in the coldest band; the row is still written so computed_at
// advances.
func (e *Engine) recompute(ctx context.Context, entityID, trigger string) (funnel.CompositeScore, error) {
	now := e.now()

	signals, err := e.store.ReadSignals(ctx, entityID)
	if err != nil {
		return funnel.CompositeScore{}, fmt.Errorf("recompute %s: %w", entityID, err)
	}

	score := CompositeAt(signals, now)
	tier := rules.EvaluateThreshold(score, e.def.Bands())

	cs := funnel.CompositeScore{
		EntityID:   entityID,
		Score:      score,
		Tier:       tier.Tier,
		ComputedAt: now,
	}
	if err := e.store.WriteCompositeScore(ctx, cs); err != nil {
		return funnel.CompositeScore{}, fmt.Errorf("recompute %s: %w", entityID, err)
	}
	metrics.ScoreRecomputes.WithLabelValues(trigger).Inc()

	slog.Debug("composite recomputed",
		"entity_id", entityID,
		"trigger", trigger,
		"signals", len(signals),
		"score", score,
		"tier", cs.Tier)

	return cs, nil
}
