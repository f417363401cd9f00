package storage

// sessions.go contains SQLiteStore methods for the session history archive.
// A row is written when a session opens and finalized when it ends; the
// relay's in-memory store is never rebuilt from these rows.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// maxSessions is the maximum number of archived sessions to retain.
// Older sessions (and their logs, via cascade) are deleted beyond this.
const maxSessions = 200

// SessionRecord is one archived session.
type SessionRecord struct {
	ID        string
	CreatedAt time.Time
	EndedAt   *time.Time // nil while the session is live
	TimeoutMs int64
	State     string // "active" while live, then "closed" or "expired"
}

// SaveSession inserts a newly opened session.
// Enforces retention: keeps only the most recent maxSessions rows.
func (s *SQLiteStore) SaveSession(rec *SessionRecord) error {
	if rec == nil {
		return errors.New("session record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert rather than INSERT OR REPLACE: REPLACE deletes the old row
	// first, and the cascade would wipe archived logs when a session is
	// reopened on resume.
	const query = `
		INSERT INTO sessions (id, created_at, ended_at, timeout_ms, state)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ended_at = NULL, state = excluded.state
	`
	_, err := s.db.Exec(query,
		rec.ID,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.TimeoutMs,
		rec.State,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	// Enforce retention: delete the oldest rows beyond the limit.
	const cleanupQuery = `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanupQuery, maxSessions); err != nil {
		return fmt.Errorf("enforce session retention: %w", err)
	}

	return nil
}

// EndSession finalizes an archived session with its terminal state.
func (s *SQLiteStore) EndSession(id, state string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE sessions SET ended_at = ?, state = ? WHERE id = ?`
	res, err := s.db.Exec(query, endedAt.Format(time.RFC3339Nano), state, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession retrieves one archived session by id.
func (s *SQLiteStore) GetSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, created_at, ended_at, timeout_ms, state
		FROM sessions WHERE id = ?
	`
	rec, err := scanSessionRow(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns archived sessions, newest first.
// The limit parameter controls how many to return (0 = default limit).
func (s *SQLiteStore) ListSessions(limit int) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = maxSessions
	}

	const query = `
		SELECT id, created_at, ended_at, timeout_ms, state
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAt string
	var endedAt sql.NullString

	if err := row.Scan(&rec.ID, &createdAt, &endedAt, &rec.TimeoutMs, &rec.State); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t

	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &t
	}

	return &rec, nil
}
