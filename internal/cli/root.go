package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/compiler"
	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// RootOptions carries the persistent flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the funnelctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "funnelctl",
		Short:   "funnelctl - outreach funnel operations",
		Long:    "Operate the outreach funnel core: validate definitions, register entities,\ningest events, sweep scores, and audit the transition log.",
		Version: funnel.EngineVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		NewValidateCommand(opts),
		NewRegisterCommand(opts),
		NewIngestCommand(opts),
		NewSignalCommand(opts),
		NewScoreCommand(opts),
		NewSweepCommand(opts),
		NewGateCommand(opts),
		NewHistoryCommand(opts),
		NewVerifyCommand(opts),
		NewConformCommand(opts),
	)

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// configureLogging wires slog to stderr at the level implied by --verbose.
// Commands that drive the engines call this before doing work so engine
// logs never mix into stdout.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// resolveDefinition returns the definition compiled from defsDir, or the
// stock definition when no directory was given.
func resolveDefinition(defsDir string) (*funnel.Definition, error) {
	if defsDir == "" {
		return funnel.DefaultDefinition(), nil
	}
	return compiler.LoadDir(defsDir)
}
