package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// SignalOptions holds flags for the signal command.
type SignalOptions struct {
	*RootOptions
	Database string
	Defs     string
	Source   string
	Weight   float64
	Period   int
}

// NewSignalCommand creates the signal command.
func NewSignalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signal <entity-id>",
		Short: "Record a pressure signal",
		Long: `Record one pressure signal for an entity and recompute its score.

Signals are immutable once recorded; their contribution decays linearly
to zero over the decay period. The fresh composite score and tier are
printed after the write.

Examples:
  funnelctl signal contact-1 --source talent_move --weight 45 --db ./funnel.db
  funnelctl signal contact-1 --source reply_velocity --weight 20 --period 14 --db ./funnel.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Source, "source", "", "signal source tag (required)")
	_ = cmd.MarkFlagRequired("source")
	cmd.Flags().Float64Var(&opts.Weight, "weight", 0, "impact weight (required)")
	_ = cmd.MarkFlagRequired("weight")
	cmd.Flags().IntVar(&opts.Period, "period", 30, "decay period in days")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")

	return cmd
}

func runSignal(opts *SignalOptions, entityID string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)
	ctx := context.Background()

	def, err := resolveDefinition(opts.Defs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	// Signals reference entity rows, so an unknown id fails here with a
	// clear message instead of a constraint error from the write.
	if _, err := st.ReadEntity(ctx, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("entity not registered: %s", entityID))
		}
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}

	scorer := scoring.New(st, def)
	cs, err := scorer.RecordSignal(ctx, funnel.PressureSignal{
		EntityID:        entityID,
		Source:          opts.Source,
		ImpactWeight:    opts.Weight,
		DecayPeriodDays: opts.Period,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to record signal", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		return formatter.Success(cs)
	}

	fmt.Fprintf(formatter.Writer, "✓ Signal recorded for %s (%s, weight %.1f, decays over %dd)\n",
		entityID, opts.Source, opts.Weight, opts.Period)
	fmt.Fprintf(formatter.Writer, "  Composite: %.2f (%s)\n", cs.Score, cs.Tier)
	return nil
}
