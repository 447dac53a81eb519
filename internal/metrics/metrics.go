// Package metrics declares the Prometheus collectors for the outreach
// funnel core. Collectors register on the default registry at init;
// serving them is the caller's concern (the CLI exposes /metrics on
// long-running commands).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_events_detected_total",
		Help: "Total number of events detected and keyed.",
	})

	TransitionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_transitions_applied_total",
		Help: "Total number of transitions applied to entities.",
	})

	TransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_transitions_rejected_total",
		Help: "Total number of rejected transitions, labelled by reason.",
	}, []string{"reason"})

	ReplayHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_replay_hits_total",
		Help: "Total number of idempotent re-deliveries answered from the log.",
	})

	SignalsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_signals_recorded_total",
		Help: "Total number of pressure signals recorded.",
	})

	ScoreRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_score_recomputes_total",
		Help: "Total number of composite score recomputes, labelled by trigger.",
	}, []string{"trigger"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_sweep_duration_ms",
		Help:    "Wall time of full scoring sweeps in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	GateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_gate_checks_total",
		Help: "Total number of slot completion checks, labelled by result.",
	}, []string{"result"})

	GuardDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_guard_denials_total",
		Help: "Total number of schema access denials, labelled by bounded context.",
	}, []string{"context"})
)
