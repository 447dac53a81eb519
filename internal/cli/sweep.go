package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Database    string
	Defs        string
	Workers     int
	MetricsAddr string
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recompute all composite scores",
		Long: `Recompute the composite score for every registered entity.

Entities are swept concurrently with per-entity failure isolation: one
failed recompute never aborts the run. SIGINT stops the sweep cleanly
and reports the entities finished so far.

Exit codes:
  0 - All entities recomputed
  1 - One or more recomputes failed
  2 - Command error (database not found, bad definitions, etc.)

Examples:
  funnelctl sweep --db ./funnel.db
  funnelctl sweep --db ./funnel.db --workers 8
  funnelctl sweep --db ./funnel.db --metrics-addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent recompute workers (0 = engine default)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address for the duration of the sweep")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	def, err := resolveDefinition(opts.Defs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	scorerOpts := []scoring.Option{}
	if opts.Workers > 0 {
		scorerOpts = append(scorerOpts, scoring.WithSweepWorkers(opts.Workers))
	}
	scorer := scoring.New(st, def, scorerOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:         opts.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			slog.Info("metrics listener starting", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics listener shutdown failed", "error", err)
			}
		}()
	}

	report, err := scorer.Sweep(ctx)
	interrupted := err != nil && errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return WrapExitError(ExitFailure, "sweep failed", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		if report.Failed > 0 {
			resp := CLIResponse{
				Status: "error",
				Data:   report,
				Error: &CLIError{
					Code:    "E_SWEEP",
					Message: fmt.Sprintf("%d recompute(s) failed", report.Failed),
				},
			}
			encoder := json.NewEncoder(formatter.Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(resp); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d recompute(s) failed", report.Failed))
		}
		return formatter.Success(report)
	}

	if interrupted {
		fmt.Fprintf(formatter.Writer, "Interrupted; partial results follow.\n\n")
	}
	fmt.Fprintf(formatter.Writer, "Sweep Summary: %d entit(ies), %d recomputed, %d failed\n",
		report.Entities, report.Recomputed, report.Failed)
	fmt.Fprintf(formatter.Writer, "  Run %s finished in %s\n", report.RunID, report.Duration.Round(time.Millisecond))
	if opts.Verbose {
		for _, id := range report.FailedIDs {
			fmt.Fprintf(formatter.Writer, "  ✗ %s\n", id)
		}
	}
	if report.Failed > 0 {
		fmt.Fprintf(formatter.Writer, "\n✗ %d recompute(s) failed\n", report.Failed)
		return NewExitError(ExitFailure, fmt.Sprintf("%d recompute(s) failed", report.Failed))
	}
	fmt.Fprintf(formatter.Writer, "\n✓ Sweep complete\n")
	return nil
}
