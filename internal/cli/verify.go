package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/movement"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Defs     string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit the transition log for drift",
		Long: `Audit the whole transition log against the current definition and
the live entity rows.

Each recorded edge must still exist in the transition table and land
where the log says, per-entity records must chain, and every entity's
live state must match its log tail. Drift is reported, never repaired.

Exit codes:
  0 - Log consistent
  1 - Drift detected
  2 - Command error (database not found, bad definitions, etc.)

Examples:
  funnelctl verify --db ./funnel.db
  funnelctl verify --db ./funnel.db --defs ./defs --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
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

	eng := movement.New(st, def, rules.NewKeywordClassifier(), scoring.New(st, def), gate.New(st, def))
	report, err := eng.Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "verify failed", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		if !report.Clean() {
			resp := CLIResponse{
				Status: "error",
				Data:   report,
				Error: &CLIError{
					Code:    "E_DRIFT",
					Message: fmt.Sprintf("%d drift finding(s)", len(report.Drifts)),
				},
			}
			encoder := json.NewEncoder(formatter.Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(resp); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "transition log drift detected")
		}
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Verify Summary: %d record(s) across %d entit(ies)\n",
		report.Records, report.Entities)
	if report.Clean() {
		fmt.Fprintf(formatter.Writer, "\n✓ Transition log consistent\n")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "\n")
	for _, drift := range report.Drifts {
		fmt.Fprintf(formatter.Writer, "✗ %s [seq %d]: %s\n", drift.EntityID, drift.Seq, drift.Detail)
	}
	fmt.Fprintf(formatter.Writer, "\n✗ Drift detected: %d finding(s)\n", len(report.Drifts))
	return NewExitError(ExitFailure, "transition log drift detected")
}
