// Package storage provides SQLite persistence for the relay: session
// history, archived session logs, and client auth tokens.
//
// The in-memory session store remains authoritative for live routing;
// storage is a write-behind archive consulted only by the CLI and by
// pairing. Using modernc.org/sqlite, a pure-Go driver, keeps the build
// CGO-free.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrTokenNotFound is returned when a token lookup fails.
var ErrTokenNotFound = errors.New("token not found")

// ErrSessionNotFound is returned when a session lookup fails.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteStore persists relay state to a SQLite database. It creates the
// database and tables on first use and supports concurrent access through
// internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// Open with foreign keys enabled for referential integrity and a
	// busy_timeout so the CLI and a running relay can share the file.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// currentSchemaVersion is the database schema version.
// Increment when making schema changes and add migration logic.
const currentSchemaVersion = 1

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the initial tables: session history, archived
// session logs, and auth tokens.
func (s *SQLiteStore) migrateToV1() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			ended_at TEXT,
			timeout_ms INTEGER NOT NULL,
			state TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			payload BLOB,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_session_logs_session ON session_logs(session_id);

		CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			name TEXT,
			token_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0
		);

		INSERT INTO schema_version (version, applied_at) VALUES (1, datetime('now'));
	`

	_, err := s.db.Exec(schema)
	return err
}
