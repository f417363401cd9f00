package storage

// tokens.go contains SQLiteStore methods for pairing tokens. Tokens are
// minted by the pair command and checked during the client handshake when
// authentication is enabled. Only the bcrypt hash of a token is stored;
// the plaintext is shown once at mint time.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenRecord is one stored pairing token.
type TokenRecord struct {
	ID        string
	Name      string
	TokenHash string
	CreatedAt time.Time
	Revoked   bool
}

// SaveToken stores a newly minted token.
func (s *SQLiteStore) SaveToken(rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO tokens (id, name, token_hash, created_at, revoked)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.ID,
		rec.Name,
		rec.TokenHash,
		rec.CreatedAt.Format(time.RFC3339Nano),
		boolToInt(rec.Revoked),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// GetToken looks up a token record by id. Returns ErrTokenNotFound when no
// such record exists.
func (s *SQLiteStore) GetToken(id string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, revoked
		FROM tokens
		WHERE id = ?
	`
	rec, err := scanTokenRow(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return rec, nil
}

// ListTokens returns every stored token record, newest first.
func (s *SQLiteStore) ListTokens() ([]*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, revoked
		FROM tokens
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []*TokenRecord
	for rows.Next() {
		rec, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RevokeToken marks a token as revoked. Returns ErrTokenNotFound if the
// token does not exist.
func (s *SQLiteStore) RevokeToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE tokens SET revoked = 1 WHERE id = ?`
	result, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func scanTokenRow(row rowScanner) (*TokenRecord, error) {
	var rec TokenRecord
	var created string
	var revoked int
	if err := row.Scan(&rec.ID, &rec.Name, &rec.TokenHash, &created, &revoked); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t
	rec.Revoked = revoked != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
