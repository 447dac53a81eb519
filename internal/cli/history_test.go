package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/movement"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

func TestHistoryNoTransitions(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {
		registerTestEntity(t, st, "contact-1", funnel.KindContact)
	})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"contact-1", "--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "History for contact-1 (contact)")
	assert.Contains(t, output, "Current state: new")
	assert.Contains(t, output, "(none applied yet)")
	assert.Contains(t, output, "0 event(s) recorded, 0 transition(s) applied")
}

func TestHistoryListsTransitionsInOrder(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {
		registerTestEntity(t, st, "contact-1", funnel.KindContact)
	})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	applyTestEvents(t, dbPath,
		movement.RawEvent{EntityID: "contact-1", Type: "enrichment.completed", OccurredAt: base},
		movement.RawEvent{EntityID: "contact-1", Type: "outreach.sent", OccurredAt: base.Add(time.Hour)},
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"contact-1", "--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Current state: contacted")
	assert.Contains(t, output, "[1] new → queued on enrichment.completed")
	assert.Contains(t, output, "[2] queued → contacted on outreach.sent")
	assert.Contains(t, output, "2 event(s) recorded, 2 transition(s) applied")
}

func TestHistoryCountsRejectedEvents(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {
		registerTestEntity(t, st, "contact-1", funnel.KindContact)
	})
	// No edge from new on outreach.sent; audited but not applied.
	applyTestEvents(t, dbPath,
		movement.RawEvent{EntityID: "contact-1", Type: "outreach.sent", OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"contact-1", "--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "(none applied yet)")
	assert.Contains(t, output, "1 event(s) recorded, 0 transition(s) applied")
}

func TestHistoryVerboseShowsEventKeys(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {
		registerTestEntity(t, st, "contact-1", funnel.KindContact)
	})
	applyTestEvents(t, dbPath,
		movement.RawEvent{EntityID: "contact-1", Type: "enrichment.completed", OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"contact-1", "--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "key ")
	assert.Contains(t, output, "...")
}

func TestHistoryUnregisteredEntity(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"ghost-1", "--db", dbPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "entity not registered: ghost-1")
}

func TestHistoryJSON(t *testing.T) {
	dbPath := newTestDB(t)
	seedStore(t, dbPath, func(ctx context.Context, st *store.Store) {
		registerTestEntity(t, st, "contact-1", funnel.KindContact)
	})
	applyTestEvents(t, dbPath,
		movement.RawEvent{EntityID: "contact-1", Type: "enrichment.completed", OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewHistoryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"contact-1", "--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "contact-1", data["entity_id"])
	assert.Equal(t, "queued", data["current_state"])
	assert.Equal(t, float64(1), data["events_recorded"])

	transitions, ok := data["transitions"].([]interface{})
	require.True(t, ok)
	require.Len(t, transitions, 1)
	first := transitions[0].(map[string]interface{})
	assert.Equal(t, "new", first["from_state"])
	assert.Equal(t, "queued", first["to_state"])
	assert.NotEmpty(t, first["event_key"])
}

func TestTruncateID(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"short", "short"},
		{"exactly16chars!!", "exactly16chars!!"},
		{"d2a84f4b8b650937ec8f73cd8be2c74add5a911ba64df27458ed8229da804a26", "d2a84f4b...da804a26"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, truncateID(tc.input))
	}
}
