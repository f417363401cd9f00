package storage

// logs.go contains SQLiteStore methods for the archived session log.
// Unlike the in-memory ring (bounded at the session's retention capacity),
// the archive keeps every entry until its session ages out of the history.

import (
	"fmt"
	"time"
)

// LogRecord is one archived log entry.
type LogRecord struct {
	SessionID string
	Direction string // "in" or "out"
	Timestamp time.Time
	Payload   []byte
}

// AppendLog archives one log entry. Entries for unknown sessions are
// rejected by the foreign key, which keeps the archive consistent with the
// session history retention.
func (s *SQLiteStore) AppendLog(rec *LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO session_logs (session_id, direction, timestamp, payload)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.SessionID,
		rec.Direction,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// GetSessionLog returns the archived entries for one session in append
// order. The limit parameter bounds the result (0 = no bound).
func (s *SQLiteStore) GetSessionLog(sessionID string, limit int) ([]*LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT session_id, direction, timestamp, payload
		FROM session_logs
		WHERE session_id = ?
		ORDER BY id ASC
	`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get session log: %w", err)
	}
	defer rows.Close()

	var out []*LogRecord
	for rows.Next() {
		var rec LogRecord
		var ts string
		if err := rows.Scan(&rec.SessionID, &rec.Direction, &ts, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		rec.Timestamp = t
		out = append(out, &rec)
	}
	return out, rows.Err()
}
