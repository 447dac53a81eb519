package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// HistoryEntry is one applied transition in an entity's timeline.
type HistoryEntry struct {
	Seq        int64     `json:"seq"`
	From       string    `json:"from_state"`
	To         string    `json:"to_state"`
	Event      string    `json:"effective_event"`
	EventKey   string    `json:"event_key"`
	RecordedAt time.Time `json:"recorded_at"`
}

// HistoryResult is the history command's output payload. Events counts
// every audit row including rejected ones; Transitions holds only the
// applied moves.
type HistoryResult struct {
	EntityID     string         `json:"entity_id"`
	Kind         string         `json:"kind"`
	CurrentState string         `json:"current_state"`
	Transitions  []HistoryEntry `json:"transitions"`
	Events       int            `json:"events_recorded"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <entity-id>",
		Short: "Show an entity's transition timeline",
		Long: `Show the ordered transition log for one entity.

Every applied move is listed oldest first with its logical sequence
number. The event count includes rejected detections, which land in
the audit trail without moving the entity.

Examples:
  funnelctl history contact-1 --db ./funnel.db
  funnelctl history contact-1 --db ./funnel.db --verbose
  funnelctl history contact-1 --db ./funnel.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, entityID string, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entity, err := st.ReadEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("entity not registered: %s", entityID))
		}
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}

	records, err := st.ReadTransitions(ctx, entityID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}
	events, err := st.ReadEvents(ctx, entityID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := HistoryResult{
		EntityID:     entity.ID,
		Kind:         string(entity.Kind),
		CurrentState: string(entity.CurrentState),
		Transitions:  make([]HistoryEntry, 0, len(records)),
		Events:       len(events),
	}
	for _, rec := range records {
		result.Transitions = append(result.Transitions, HistoryEntry{
			Seq:        rec.Seq,
			From:       string(rec.FromState),
			To:         string(rec.ToState),
			Event:      string(rec.EffectiveEvent),
			EventKey:   rec.EventKey,
			RecordedAt: rec.RecordedAt,
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

	fmt.Fprintf(formatter.Writer, "History for %s (%s)\n", result.EntityID, result.Kind)
	fmt.Fprintf(formatter.Writer, "Current state: %s\n\n", result.CurrentState)
	fmt.Fprintf(formatter.Writer, "=== Transitions ===\n")
	if len(result.Transitions) == 0 {
		fmt.Fprintf(formatter.Writer, "  (none applied yet)\n")
	}
	for _, entry := range result.Transitions {
		fmt.Fprintf(formatter.Writer, "  [%d] %s → %s on %s (%s)\n",
			entry.Seq, entry.From, entry.To, entry.Event, entry.RecordedAt.Format(time.RFC3339))
		if opts.Verbose {
			fmt.Fprintf(formatter.Writer, "      key %s\n", truncateID(entry.EventKey))
		}
	}
	fmt.Fprintf(formatter.Writer, "\n%d event(s) recorded, %d transition(s) applied\n",
		result.Events, len(result.Transitions))
	return nil
}

// truncateID shortens content hashes for terminal output.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
