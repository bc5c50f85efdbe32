// Package state provides SQLite-based persistence for keen agent sessions.
// Project state lives in .keen/state.db; the global database lives under
// the XDG data directory.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite is the pure-Go driver and the default.
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo driver.
	DriverSQLite3 = "sqlite3"
)

// DB wraps an SQLite database connection with session operations.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex
}

// GlobalDBPath returns the path to the global keen database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "keen", "keen.db")
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".keen", "state.db")
}

// ValidDriver reports whether driver is a supported SQLite driver name.
func ValidDriver(driver string) bool {
	return driver == DriverSQLite || driver == DriverSQLite3
}

// Open opens an SQLite database at the given path using driver.
// An empty driver selects DriverSQLite.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if !ValidDriver(driver) {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path, driver: driver}, nil
}

// OpenProject opens the project-local database.
func OpenProject(driver, projectRoot string) (*DB, error) {
	return Open(driver, ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the name of the SQL driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1AgentSessions},
		{2, migrationV2SessionTenant},
		{3, migrationV3SessionOwner},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

const migrationV1AgentSessions = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	parent_session_id TEXT,
	depth INTEGER NOT NULL DEFAULT 0,
	git_branch TEXT NOT NULL,
	vision TEXT,
	working_directory TEXT,
	specialization TEXT NOT NULL,
	max_iterations INTEGER NOT NULL DEFAULT 0,
	cost_budget REAL NOT NULL DEFAULT 0.0,
	execution_status TEXT NOT NULL DEFAULT 'running',
	success INTEGER,
	completion_report TEXT,
	started_at DATETIME NOT NULL,
	end_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_agent_sessions_parent ON agent_sessions(parent_session_id);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_user ON agent_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_status ON agent_sessions(execution_status);
`

const migrationV2SessionTenant = `
ALTER TABLE agent_sessions ADD COLUMN tenant_id TEXT NOT NULL DEFAULT '';
ALTER TABLE agent_sessions ADD COLUMN updated_at DATETIME;
`

const migrationV3SessionOwner = `
ALTER TABLE agent_sessions ADD COLUMN owner_pid INTEGER NOT NULL DEFAULT 0;
ALTER TABLE agent_sessions ADD COLUMN owner_host TEXT NOT NULL DEFAULT '';
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.ExecContext(context.Background(), query, args...)
}

// ExecContext executes a query that doesn't return rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.QueryRowContext(context.Background(), query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// PurgeOldSessions deletes finished sessions that started before
// olderThan ago. Running sessions are kept.
// Returns the number of sessions deleted.
func (db *DB) PurgeOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.ExecContext(ctx, `
		DELETE FROM agent_sessions WHERE started_at < ? AND execution_status != 'running'
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}
