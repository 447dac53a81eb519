package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/djb258/barton-outreach-core-sub008/internal/funnel"
	"github.com/djb258/barton-outreach-core-sub008/internal/schemaguard"
)

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnel.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s1.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing after Open: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count); err != nil {
		t.Errorf("query after reopen failed: %v", err)
	}
}

func TestOpen_RepeatedOpensKeepSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnel.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{
		"entities", "events", "transition_records",
		"pressure_signals", "composite_scores", "slot_requirements",
	} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after repeated opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/dir/funnel.db"); err == nil {
		t.Error("expected error for unreachable path, got nil")
	}
}

func TestClose_Tolerant(t *testing.T) {
	if err := (&Store{}).Close(); err != nil {
		t.Errorf("Close() on zero Store errored: %v", err)
	}

	s, err := Open(filepath.Join(t.TempDir(), "funnel.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	// Double close must not panic.
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}

	for _, tt := range tests {
		if err := s.verifyPragma(tt.pragma, tt.want); err != nil {
			t.Error(err)
		}
	}
}

// Schema table tests

func TestSchema_TableColumns(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		table   string
		columns []string
	}{
		{"entities", []string{"id", "kind", "current_state", "funnel_membership", "updated_at"}},
		{"events", []string{"idempotency_key", "entity_id", "event_type", "occurred_at", "metadata"}},
		{"transition_records", []string{"id", "seq", "entity_id", "from_state", "to_state", "event_key", "effective_event", "recorded_at"}},
		{"pressure_signals", []string{"id", "entity_id", "source", "impact_weight", "decay_period_days", "created_at"}},
		{"composite_scores", []string{"entity_id", "score", "tier", "computed_at"}},
		{"slot_requirements", []string{"company_id", "slot_name", "filled", "filled_at"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got := getTableColumns(t, s.db, tt.table)
			for _, col := range tt.columns {
				if !slices.Contains(got, col) {
					t.Errorf("%s missing column %q", tt.table, col)
				}
			}
		})
	}
}

// Constraint tests

func TestConstraint_EntityKindCheck(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO entities (id, kind, current_state, updated_at)
		VALUES ('e1', 'robot', 'new', '2026-03-01T12:00:00.000000000Z')
	`)
	if err == nil {
		t.Error("expected CHECK constraint violation for unknown kind, got nil")
	}
}

func TestConstraint_EventRequiresEntity(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO events (idempotency_key, entity_id, event_type, occurred_at)
		VALUES ('key1', 'nonexistent', 'outreach.sent', '2026-03-01T12:00:00.000000000Z')
	`)
	if err == nil {
		t.Error("expected foreign key constraint violation, got nil")
	}
}

func TestConstraint_TransitionUniqueEventKey(t *testing.T) {
	s := createTestStore(t)
	mustRegister(t, s, createTestEntity("e1", funnel.KindContact, funnel.StateNew))

	_, err := s.db.Exec(`
		INSERT INTO events (idempotency_key, entity_id, event_type, occurred_at)
		VALUES ('key1', 'e1', 'outreach.sent', '2026-03-01T12:00:00.000000000Z')
	`)
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO transition_records (seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at)
		VALUES (1, 'e1', 'new', 'queued', 'key1', 'outreach.sent', '2026-03-01T12:00:00.000000000Z')
	`)
	if err != nil {
		t.Fatalf("failed to insert first transition: %v", err)
	}

	// A second transition claiming the same event must be rejected.
	_, err = s.db.Exec(`
		INSERT INTO transition_records (seq, entity_id, from_state, to_state, event_key, effective_event, recorded_at)
		VALUES (2, 'e1', 'queued', 'contacted', 'key1', 'outreach.sent', '2026-03-01T12:00:01.000000000Z')
	`)
	if err == nil {
		t.Error("expected UNIQUE constraint violation on event_key, got nil")
	}
}

func TestConstraint_SignalDecayPositive(t *testing.T) {
	s := createTestStore(t)
	mustRegister(t, s, createTestEntity("e1", funnel.KindContact, funnel.StateNew))

	_, err := s.db.Exec(`
		INSERT INTO pressure_signals (entity_id, source, impact_weight, decay_period_days, created_at)
		VALUES ('e1', 'test', 10.0, 0, '2026-03-01T12:00:00.000000000Z')
	`)
	if err == nil {
		t.Error("expected CHECK constraint violation for zero decay period, got nil")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_V1CooldownIndexExists(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "events")
	if !slices.Contains(indexes, "idx_events_entity_type_time") {
		t.Errorf("events table missing index idx_events_entity_type_time, indexes: %v", indexes)
	}
}

func TestMigration_IdempotentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnel.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		var version int
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}
		s.Close()

		if version != currentSchemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, currentSchemaVersion)
		}
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	// Build a database that has the schema but never ran migrations.
	path := filepath.Join(t.TempDir(), "funnel.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	// Opening through Open must run the pending migration.
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	indexes := getTableIndexes(t, s.db, "events")
	if !slices.Contains(indexes, "idx_events_entity_type_time") {
		t.Errorf("cooldown index missing after v0 upgrade, indexes: %v", indexes)
	}
}

// Guard wiring tests

func guardedTestStore(t *testing.T, contextID string) *Store {
	t.Helper()
	own := schemaguard.MustOwnership(map[string][]string{
		"outreach_core": {"main", "funnel"},
		"reporting":     {"funnel"},
	})
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithGuard(schemaguard.New(own), contextID))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGuard_UnqualifiedStatementsPass(t *testing.T) {
	s := guardedTestStore(t, "reporting")

	// The store's own SQL is unqualified, so normal operations work
	// under any context.
	mustRegister(t, s, createTestEntity("e1", funnel.KindContact, funnel.StateNew))

	e, err := s.ReadEntity(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ReadEntity() under guard failed: %v", err)
	}
	if e.ID != "e1" {
		t.Errorf("ReadEntity() ID = %q, want e1", e.ID)
	}
}

func TestGuard_QueryDeniesForeignSchema(t *testing.T) {
	s := guardedTestStore(t, "reporting")

	_, err := s.Query(context.Background(), "SELECT * FROM main.entities")
	if err == nil {
		t.Fatal("expected denial for foreign schema reference, got nil")
	}
	if !schemaguard.IsForbiddenAccess(err) {
		t.Errorf("error = %v, want ForbiddenAccessError", err)
	}
}

func TestGuard_QueryAllowsOwnedSchema(t *testing.T) {
	s := guardedTestStore(t, "outreach_core")

	// main is owned by outreach_core; the table exists in the main database.
	rows, err := s.Query(context.Background(), "SELECT id FROM main.entities")
	if err != nil {
		t.Fatalf("Query() on owned schema failed: %v", err)
	}
	rows.Close()
}

func TestGuard_UnguardedStoreAllowsEverything(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.Query(context.Background(), "SELECT id FROM main.entities")
	if err != nil {
		t.Fatalf("Query() without guard failed: %v", err)
	}
	rows.Close()
}

// Test helpers

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info row: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query(
		"SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table,
	)
	if err != nil {
		t.Fatalf("index lookup for %s failed: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
