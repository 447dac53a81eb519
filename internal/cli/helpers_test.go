package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/gate"
	"github.com/djb258/barton-outreach-core-sub008/internal/movement"
	"github.com/djb258/barton-outreach-core-sub008/internal/rules"
	"github.com/djb258/barton-outreach-core-sub008/internal/scoring"
	"github.com/djb258/barton-outreach-core-sub008/internal/store"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "funnel.db")
}

// seedStore opens the database, runs seed, and closes it again so the
// command under test gets the file to itself.
func seedStore(t *testing.T, dbPath string, seed func(ctx context.Context, st *store.Store)) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	seed(context.Background(), st)
}

func registerTestEntity(t *testing.T, st *store.Store, id string, kind funnel.EntityKind) {
	t.Helper()
	_, err := st.RegisterEntity(context.Background(), funnel.Entity{
		ID:               id,
		Kind:             kind,
		CurrentState:     funnel.StateNew,
		FunnelMembership: "default",
		UpdatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
}

// applyTestEvents runs raw events through a movement engine against the
// database, then closes it. Used to seed transition history.
func applyTestEvents(t *testing.T, dbPath string, events ...movement.RawEvent) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	def := funnel.DefaultDefinition()
	eng := movement.New(st, def, rules.NewKeywordClassifier(), scoring.New(st, def), gate.New(st, def))
	require.NoError(t, eng.Resume(ctx))
	for _, raw := range events {
		_, err := eng.ProcessEvent(ctx, raw)
		require.NoError(t, err)
	}
}

func writeEventsFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func writeCUEFile(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

// minimalDefs writes a small self-contained definition and returns its
// directory.
func minimalDefs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeCUEFile(t, dir, "funnel.cue", `
package defs

funnel: {
	name:    "mini"
	initial: "open"
	states: [
		{name: "open"},
		{name: "won", terminal: true},
	]
	transitions: [
		{from: "open", event: "deal.closed", to: "won"},
	]
	tiers: [
		{name: "COLD", min: 0},
		{name: "HOT", min: 50},
	]
}
`)
	return dir
}
