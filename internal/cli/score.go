package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// ScoreOptions holds flags for the score command.
type ScoreOptions struct {
	*RootOptions
	Database string
	Defs     string
}

// SignalBreakdown is one signal's contribution to the composite as of
// the compute time.
type SignalBreakdown struct {
	Source       string  `json:"source"`
	Weight       float64 `json:"impact_weight"`
	AgeHours     float64 `json:"age_hours"`
	Contribution float64 `json:"contribution"`
}

// ScoreResult is the score command's output payload.
type ScoreResult struct {
	EntityID   string            `json:"entity_id"`
	Score      float64           `json:"score"`
	Tier       string            `json:"tier"`
	ComputedAt time.Time         `json:"computed_at"`
	Signals    []SignalBreakdown `json:"signals"`
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "score <entity-id>",
		Short: "Show an entity's composite score",
		Long: `Show the composite pressure score and tier for one entity.

A stored score is served as-is when fresh; a stale or missing score is
recomputed from the signal history before display. Use --verbose for
the per-signal decay breakdown.

Examples:
  funnelctl score contact-1 --db ./funnel.db
  funnelctl score contact-1 --db ./funnel.db --verbose
  funnelctl score contact-1 --db ./funnel.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")

	return cmd
}

func runScore(opts *ScoreOptions, entityID string, cmd *cobra.Command) error {
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

	if _, err := st.ReadEntity(ctx, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("entity not registered: %s", entityID))
		}
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}

	scorer := scoring.New(st, def)
	cs, err := scorer.Score(ctx, entityID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute score", err)
	}

	signals, err := st.ReadSignals(ctx, entityID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read signals", err)
	}

	result := ScoreResult{
		EntityID:   cs.EntityID,
		Score:      cs.Score,
		Tier:       string(cs.Tier),
		ComputedAt: cs.ComputedAt,
		Signals:    make([]SignalBreakdown, 0, len(signals)),
	}
	for _, sig := range signals {
		result.Signals = append(result.Signals, SignalBreakdown{
			Source:       sig.Source,
			Weight:       sig.ImpactWeight,
			AgeHours:     cs.ComputedAt.Sub(sig.CreatedAt).Hours(),
			Contribution: scoring.SignalContribution(sig, cs.ComputedAt),
		})
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Score for %s: %.2f (%s)\n", result.EntityID, result.Score, result.Tier)
	fmt.Fprintf(formatter.Writer, "  Computed: %s\n", result.ComputedAt.Format(time.RFC3339))
	if opts.Verbose && len(result.Signals) > 0 {
		fmt.Fprintf(formatter.Writer, "\n  Signals:\n")
		for _, sb := range result.Signals {
			fmt.Fprintf(formatter.Writer, "    %-20s weight %7.2f  age %6.1fh  contributes %7.2f\n",
				sb.Source, sb.Weight, sb.AgeHours, sb.Contribution)
		}
	}
	return nil
}
