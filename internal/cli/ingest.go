package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/movement"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// maxEventLine bounds a single JSONL record. Reply bodies ride in event
// metadata, so the default scanner limit is too tight.
const maxEventLine = 1024 * 1024

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
	Defs     string
}

// IngestOutcome is the decision for one ingested event.
type IngestOutcome struct {
	Line     int    `json:"line"`
	EntityID string `json:"entity_id"`
	Event    string `json:"event"`
	Allowed  bool   `json:"allowed"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
	Seq      int64  `json:"seq,omitempty"`
}

// IngestFailure records one line that could not be processed.
type IngestFailure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// IngestReport summarizes one ingest run.
type IngestReport struct {
	Events   int             `json:"events"`
	Applied  int             `json:"applied"`
	Rejected int             `json:"rejected"`
	Replayed int             `json:"replayed"`
	Failed   int             `json:"failed"`
	Outcomes []IngestOutcome `json:"outcomes"`
	Failures []IngestFailure `json:"failures,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events.jsonl>",
		Short: "Ingest raw funnel events",
		Long: `Ingest a batch of raw events from a JSONL file.

Each line is one raw event:

  {"entity_id":"contact-1","type":"outreach.sent","occurred_at":"2026-01-15T10:00:00Z"}
  {"entity_id":"contact-1","type":"reply","occurred_at":"2026-01-16T09:30:00Z","metadata":{"body":"sounds good"}}

Events run through detection, rule resolution, and the transition table.
Rejected transitions and idempotent re-deliveries are normal outcomes and
count toward the summary; only malformed lines and engine errors count as
failures.

Exit codes:
  0 - All lines processed (rejections included)
  1 - One or more lines failed
  2 - Command error (file or database not found, etc.)

Examples:
  funnelctl ingest ./events.jsonl --db ./funnel.db
  funnelctl ingest ./events.jsonl --db ./funnel.db --defs ./defs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "CUE definition directory (defaults to the stock funnel)")

	return cmd
}

func runIngest(opts *IngestOptions, eventsPath string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	file, err := os.Open(eventsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open events file", err)
	}
	defer file.Close()

	def, err := resolveDefinition(opts.Defs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			fmt.Fprintf(formatter.GetErrWriter(), "warning: closing database: %v\n", closeErr)
		}
	}()

	scorer := scoring.New(st, def)
	eng := movement.New(st, def, rules.NewKeywordClassifier(), scorer, gate.New(st, def))

	// Setup signal handling so a long batch can be interrupted cleanly.
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

	// Seed the logical clock from the existing log before any apply.
	if err := eng.Resume(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to resume transition log", err)
	}

	report := &IngestReport{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line++

		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var raw movement.RawEvent
		if err := json.Unmarshal(text, &raw); err != nil {
			report.addFailure(line, fmt.Sprintf("invalid JSON: %v", err))
			continue
		}

		decision, err := eng.ProcessEvent(ctx, raw)
		if err != nil {
			report.addFailure(line, err.Error())
			continue
		}

		outcome := IngestOutcome{
			Line:     line,
			EntityID: decision.EntityID,
			Event:    string(decision.EffectiveEvent),
			Allowed:  decision.Allowed,
			From:     string(decision.From),
			To:       string(decision.To),
			Reason:   string(decision.Reason),
			Replayed: decision.Replayed,
			Seq:      decision.Seq,
		}
		report.addOutcome(outcome)
		formatter.VerboseLog("%s", describeOutcome(outcome))
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read events file", err)
	}

	interrupted := ctx.Err() != nil
	if opts.Format == "json" {
		return outputIngestJSON(cmd, report)
	}
	return outputIngestText(cmd, report, interrupted)
}

func (r *IngestReport) addOutcome(o IngestOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Events++
	switch {
	case o.Replayed:
		r.Replayed++
	case o.Allowed:
		r.Applied++
	default:
		r.Rejected++
	}
}

func (r *IngestReport) addFailure(line int, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, IngestFailure{Line: line, Error: msg})
}

// describeOutcome renders one decision for verbose output.
func describeOutcome(o IngestOutcome) string {
	switch {
	case o.Replayed:
		return fmt.Sprintf("line %d: %s replayed %s → %s (seq %d)", o.Line, o.EntityID, o.From, o.To, o.Seq)
	case o.Allowed:
		return fmt.Sprintf("line %d: %s %s → %s on %s (seq %d)", o.Line, o.EntityID, o.From, o.To, o.Event, o.Seq)
	default:
		return fmt.Sprintf("line %d: %s rejected %s in %s: %s", o.Line, o.EntityID, o.Event, o.From, o.Reason)
	}
}

// outputIngestJSON outputs the ingest report as JSON.
func outputIngestJSON(cmd *cobra.Command, report *IngestReport) error {
	status := "ok"
	response := CLIResponse{Status: status, Data: report}

	if report.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_INGEST",
			Message: fmt.Sprintf("%d line(s) failed", report.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d line(s) failed", report.Failed))
	}
	return nil
}

// outputIngestText outputs the ingest report as text.
func outputIngestText(cmd *cobra.Command, report *IngestReport, interrupted bool) error {
	w := cmd.OutOrStdout()

	if interrupted {
		fmt.Fprintln(w, "Interrupted; partial results follow.")
		fmt.Fprintln(w)
	}

	for _, failure := range report.Failures {
		fmt.Fprintf(w, "✗ line %d: %s\n", failure.Line, failure.Error)
	}
	if report.Failed > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Ingest Summary: %d event(s): %d applied, %d rejected, %d replayed\n",
		report.Events, report.Applied, report.Rejected, report.Replayed)

	if report.Failed > 0 {
		fmt.Fprintf(w, "✗ %d line(s) failed\n", report.Failed)
		return NewExitError(ExitFailure, fmt.Sprintf("%d line(s) failed", report.Failed))
	}

	fmt.Fprintln(w, "✓ All lines processed")
	return nil
}
