package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/djb258/barton-outreach-core-sub008/internal/metrics"
	"github.com/djb258/barton-outreach-core-sub008/internal/schemaguard"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - initial schema, before user_version tracking
// 1 - covering index on events(entity_id, event_type, occurred_at)
//     for cooldown lookups
const currentSchemaVersion = 1

// Store provides durable storage for the outreach funnel core. It wraps
// a single SQLite connection in WAL mode: reads may proceed during a
// write, writes serialize.
type Store struct {
	db        *sql.DB
	guard     *schemaguard.Guard
	contextID string
}

// Option configures a Store during Open.
type Option func(*Store)

// WithGuard attaches a schema access guard. Every statement the store
// executes is authorized for contextID before it runs; a denial aborts
// the call with *schemaguard.ForbiddenAccessError.
func WithGuard(g *schemaguard.Guard, contextID string) Option {
	return func(s *Store) {
		s.guard = g
		s.contextID = contextID
	}
}

// Open creates or opens the funnel database at path, applying pragmas
// and any pending schema migrations before returning.
//
// The connection runs with WAL journaling, synchronous=NORMAL, a
// 5-second busy timeout, and foreign keys ON. Opening an
// already-migrated database changes nothing beyond the pragmas.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite permits one writer at a time; a single pooled connection
	// sidesteps SQLITE_BUSY instead of surfacing it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sql.DB. Statements issued through it bypass
// the schema access guard; prefer Store methods or Query.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query executes a guarded ad-hoc query. The caller closes the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.query(ctx, query, args...)
}

// authorize checks query against the attached guard. A store opened
// without WithGuard authorizes everything.
func (s *Store) authorize(query string) error {
	if s.guard == nil {
		return nil
	}
	if err := s.guard.Authorize(s.contextID, query); err != nil {
		metrics.GuardDenials.WithLabelValues(s.contextID).Inc()
		return err
	}
	return nil
}

func (s *Store) authorizeAll(queries ...string) error {
	for _, q := range queries {
		if err := s.authorize(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.authorize(query); err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.authorize(query); err != nil {
		return nil, err
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	if err := s.authorize(query); err != nil {
		return nil, err
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

// applyPragmas configures the connection for funnel workloads.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema executes the embedded DDL (IF NOT EXISTS throughout) and
// then brings user_version up to date. Safe to rerun.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations walks the database from its recorded user_version up to
// currentSchemaVersion, one step at a time.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the cooldown lookup index for existing databases.
// New databases also reach here with user_version 0, so the index is
// created IF NOT EXISTS either way.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_entity_type_time
		ON events(entity_id, event_type, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma reads a pragma back and compares it against expected.
// Test helper.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
