package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/harness"
)

// ConformOptions holds flags for the conform command.
type ConformOptions struct {
	*RootOptions
}

// NewConformCommand creates the conform command.
func NewConformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConformOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conform <scenarios-dir>",
		Short: "Run YAML conformance scenarios",
		Long: `Run every YAML scenario file in a directory against a fresh
in-memory funnel.

Each scenario seeds entities, signals, and slots, feeds events through
the movement engine, and checks final states, scores, and the
transition log. Load and execution problems count as failures
alongside assertion failures.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (directory missing or empty)

Examples:
  funnelctl conform ./testdata/scenarios
  funnelctl conform ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConform(opts, args[0], cmd)
		},
	}

	return cmd
}

func runConform(opts *ConformOptions, dir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	suite, err := harness.RunDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		if suite.Failed > 0 {
			resp := CLIResponse{
				Status: "error",
				Data:   suite,
				Error: &CLIError{
					Code:    "E_CONFORM",
					Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
				},
			}
			encoder := json.NewEncoder(formatter.Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(resp); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
		}
		return formatter.Success(suite)
	}

	for _, failure := range suite.Failures {
		fmt.Fprintf(formatter.Writer, "✗ %s\n", failure.Scenario)
		fmt.Fprintf(formatter.Writer, "  %s\n", failure.Error)
		if opts.Verbose {
			fmt.Fprintf(formatter.Writer, "  (%s)\n", failure.Path)
		}
	}
	if len(suite.Failures) > 0 {
		fmt.Fprintf(formatter.Writer, "\n")
	}
	fmt.Fprintf(formatter.Writer, "Conformance Summary: %d passed, %d failed, %d total\n",
		suite.Passed, suite.Failed, suite.Total)
	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	fmt.Fprintf(formatter.Writer, "\n✓ All scenarios passed\n")
	return nil
}
