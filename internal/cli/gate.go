package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// GateOptions holds flags for the gate command.
type GateOptions struct {
	*RootOptions
	Database string
	Defs     string
}

// GateReport is the gate command's output payload.
type GateReport struct {
	CompanyID string   `json:"company_id"`
	Passed    bool     `json:"passed"`
	Required  []string `json:"required_slots"`
	Missing   []string `json:"missing_slots,omitempty"`
}

// NewGateCommand creates the gate command.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gate <company-id>",
		Short: "Check a company's slot completion gate",
		Long: `Check whether a company has every required slot filled.

The gate reads slot-fill rows written by external pipelines; unfilled
and absent rows both count as missing. Contacts have no gate.

Exit codes:
  0 - Gate passed
  1 - Gate incomplete (missing slots listed)
  2 - Command error (unknown company, entity is a contact, etc.)

Examples:
  funnelctl gate company-1 --db ./funnel.db
  funnelctl gate company-1 --db ./funnel.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")

	return cmd
}

func runGate(opts *GateOptions, companyID string, cmd *cobra.Command) error {
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

	g := gate.New(st, def)
	result, err := g.CheckCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("entity not registered: %s", companyID))
		}
		return WrapExitError(ExitCommandError, "gate check failed", err)
	}

	report := GateReport{
		CompanyID: companyID,
		Passed:    result.Passed,
		Required:  def.RequiredSlots(),
		Missing:   result.MissingSlots,
	}
	if report.Passed {
		report.Missing = nil
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		if !report.Passed {
			resp := CLIResponse{
				Status: "error",
				Data:   report,
				Error: &CLIError{
					Code:    "E_GATE",
					Message: fmt.Sprintf("%d required slot(s) missing", len(report.Missing)),
				},
			}
			encoder := json.NewEncoder(formatter.Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(resp); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d required slot(s) missing", len(report.Missing)))
		}
		return formatter.Success(report)
	}

	total := len(report.Required)
	filled := total - len(report.Missing)
	if report.Passed {
		fmt.Fprintf(formatter.Writer, "✓ %s gate complete (%d/%d slots filled)\n", companyID, filled, total)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✗ %s gate incomplete: %d/%d slots filled\n", companyID, filled, total)
	fmt.Fprintf(formatter.Writer, "  Missing: %s\n", strings.Join(report.Missing, ", "))
	return NewExitError(ExitFailure, fmt.Sprintf("%d required slot(s) missing", len(report.Missing)))
}
