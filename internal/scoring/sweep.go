package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/djb258/barton-outreach-core-sub008/internal/metrics"
)

// SweepReport summarizes one batch recompute run.
type SweepReport struct {
	RunID      string        `json:"run_id"`
	Entities   int           `json:"entities"`
	Recomputed int           `json:"recomputed"`
	Failed     int           `json:"failed"`
	FailedIDs  []string      `json:"failed_ids,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type sweepResult struct {
	entityID string
	err      error
}

// Sweep recomputes the composite score of every registered entity using a
// fixed-size worker pool. Entities are independent, so workers share
// nothing but the jobs channel; per-entity failures are collected in the
// report rather than aborting the run. Each run carries a token from the
// run token source (UUIDv7 by default) for log correlation.
//
// Context cancellation stops feeding new entities; entities already
// picked up finish. The report then covers only the processed portion and
// the context error is returned alongside it.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	runID := e.runToken()
	start := time.Now()

	ids, err := e.store.ReadEntityIDs(ctx)
	if err != nil {
		return SweepReport{RunID: runID}, fmt.Errorf("sweep %s: list entities: %w", runID, err)
	}

	report := SweepReport{RunID: runID, Entities: len(ids)}
	if len(ids) == 0 {
		report.Duration = time.Since(start)
		metrics.SweepDuration.Observe(float64(report.Duration.Milliseconds()))
		slog.Info("sweep complete", "run_id", runID, "entities", 0)
		return report, nil
	}

	workers := e.sweepWorkers
	if workers > len(ids) {
		workers = len(ids)
	}

	jobs := make(chan string)
	results := make(chan sweepResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_, err := e.recompute(ctx, id, triggerSweep)
				results <- sweepResult{entityID: id, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	for res := range results {
		if res.err != nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, res.entityID)
			slog.Warn("sweep recompute failed",
				"run_id", runID,
				"entity_id", res.entityID,
				"error", res.err)
			continue
		}
		report.Recomputed++
	}
	sort.Strings(report.FailedIDs)

	report.Duration = time.Since(start)
	metrics.SweepDuration.Observe(float64(report.Duration.Milliseconds()))

	slog.Info("sweep complete",
		"run_id", runID,
		"entities", report.Entities,
		"recomputed", report.Recomputed,
		"failed", report.Failed,
		"workers", workers,
		"duration_ms", report.Duration.Milliseconds())

	if ctx.Err() != nil {
		return report, fmt.Errorf("sweep %s: %w", runID, ctx.Err())
	}
	return report, nil
}
