package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/compiler"
	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
)

// ValidationResult is the envelope the validate command emits.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Definition *DefinitionSummary         `json:"definition,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// DefinitionSummary describes a successfully compiled definition.
type DefinitionSummary struct {
	Name        string `json:"name"`
	Hash        string `json:"hash"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
	Tiers       int    `json:"tiers"`
	Slots       int    `json:"required_slots"`
	Contexts    int    `json:"bounded_contexts"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate CUE funnel definitions",
		Long: `Validate CUE funnel definitions without touching a database.

Compiles every .cue file in the directory into one definition and reports
each schema problem as a coded record: undeclared states, duplicate edges,
tier bands out of order, and the rest of the E2xx family.

Exit codes:
  0 - Definition valid
  1 - Definition invalid (validation errors found)
  2 - Command error (directory not found, no CUE files, etc.)

Examples:
  funnelctl validate ./defs
  funnelctl validate ./defs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling definitions in %s", defsDir)

	def, err := compiler.LoadDir(defsDir)
	if err == nil {
		return outputValidateSuccess(formatter, summarizeDefinition(def))
	}

	// Semantic problems: every coded record the validator found.
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return outputValidationErrors(formatter, []compiler.ValidationError(verrs))
	}

	// Type-level problems: a single positioned record.
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		return outputValidationErrors(formatter, []compiler.ValidationError{{
			Field:   cerr.Field,
			Message: compileErrorMessage(cerr),
			Code:    ErrCodeCompile,
		}})
	}

	// Everything else is a load problem: directory missing, no CUE files,
	// unparseable package. Command-level error, exit code 2.
	_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load definitions", err)
}

// summarizeDefinition collects the counts shown on success.
func summarizeDefinition(def *funnel.Definition) *DefinitionSummary {
	return &DefinitionSummary{
		Name:        def.Name(),
		Hash:        def.Hash(),
		States:      len(def.States()),
		Transitions: len(def.Edges()),
		Tiers:       len(def.Bands()),
		Slots:       len(def.RequiredSlots()),
		Contexts:    len(def.Ownership()),
	}
}

// compileErrorMessage keeps the source position visible in the record.
func compileErrorMessage(cerr *compiler.CompileError) string {
	if cerr.Pos.IsValid() {
		return fmt.Sprintf("%s (%s:%d:%d)",
			cerr.Message, cerr.Pos.Filename(), cerr.Pos.Line(), cerr.Pos.Column())
	}
	return cerr.Message
}

// outputValidateSuccess outputs a valid-definition report.
func outputValidateSuccess(formatter *OutputFormatter, summary *DefinitionSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Definition: summary})
	}

	fmt.Fprintln(formatter.Writer, "✓ Definition valid")
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "  %s (hash %s)\n", summary.Name, shortHash(summary.Hash))
	fmt.Fprintf(formatter.Writer, "  %d state(s), %d transition(s), %d tier band(s)\n",
		summary.States, summary.Transitions, summary.Tiers)
	fmt.Fprintf(formatter.Writer, "  %d required slot(s), %d bounded context(s)\n",
		summary.Slots, summary.Contexts)
	return nil
}

// outputValidationErrors outputs coded validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Errors: errs,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, verr := range errs {
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", verr.Code, verr.Field, verr.Message)
	}
	fmt.Fprintln(formatter.Writer)

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// shortHash truncates a definition hash for display.
func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "..."
}
