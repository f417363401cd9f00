// Package auth handles client pairing tokens. A token is minted once by
// the pair command, shown to the user in plaintext, and stored only as a
// bcrypt hash. Clients present the plaintext token in the handshake.
package auth

import (
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tabremote/relay/internal/errors"
	"github.com/tabremote/relay/internal/storage"
)

// TokenStore is the persistence the auth layer needs. *storage.SQLiteStore
// satisfies it.
type TokenStore interface {
	SaveToken(rec *storage.TokenRecord) error
	ListTokens() ([]*storage.TokenRecord, error)
	RevokeToken(id string) error
}

// Manager mints and validates pairing tokens.
type Manager struct {
	store   TokenStore
	timeNow func() time.Time
}

// NewManager creates a token manager backed by the given store.
func NewManager(store TokenStore) *Manager {
	return &Manager{
		store:   store,
		timeNow: time.Now,
	}
}

// MintToken generates a new token for a named client, persists its hash,
// and returns the record alongside the plaintext token. The plaintext is
// never stored and cannot be recovered later.
func (m *Manager) MintToken(name string) (*storage.TokenRecord, string, error) {
	token := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeInternal, "failed to hash token", err)
	}

	rec := &storage.TokenRecord{
		ID:        uuid.NewString(),
		Name:      name,
		TokenHash: string(hash),
		CreatedAt: m.timeNow(),
	}
	if err := m.store.SaveToken(rec); err != nil {
		return nil, "", errors.Wrap(errors.CodeInternal, "failed to save token", err)
	}

	log.Printf("auth: minted token %s (%s)", rec.ID, rec.Name)
	return rec, token, nil
}

// ValidateToken checks a plaintext token against the stored hashes.
// Returns a coded error suitable for the handshake reply on failure.
//
// This is a linear scan over all tokens. A relay typically has a handful
// of paired clients, so the scan is fine.
func (m *Manager) ValidateToken(token string) error {
	if token == "" {
		return errors.New(errors.CodeHandshakeAuthRequired, "authentication token required")
	}

	records, err := m.store.ListTokens()
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to load tokens", err)
	}

	for _, rec := range records {
		if rec.Revoked {
			continue
		}
		// bcrypt comparison is timing safe.
		if bcrypt.CompareHashAndPassword([]byte(rec.TokenHash), []byte(token)) == nil {
			return nil
		}
	}

	log.Printf("auth: token validation failed (no matching token)")
	return errors.New(errors.CodeHandshakeAuthInvalid, "invalid authentication token")
}

// Revoke marks a token as revoked by id. Revoked tokens fail validation
// but stay listed for auditing.
func (m *Manager) Revoke(id string) error {
	if err := m.store.RevokeToken(id); err != nil {
		return err
	}
	log.Printf("auth: revoked token %s", id)
	return nil
}
