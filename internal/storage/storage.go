package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// BridgedSession is what the relay remembers about a token the client
// pushed. Tokens are indexed by keyed hash; the raw token is never stored.
type BridgedSession struct {
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *BridgedSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Storage persists bridged sessions for the relay.
type Storage interface {
	// PutSession inserts or replaces the session keyed by TokenHash.
	PutSession(ctx context.Context, session *BridgedSession) error
	// GetSession returns ErrSessionNotFound for unknown or expired hashes.
	GetSession(ctx context.Context, tokenHash string) (*BridgedSession, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, tokenHash string) error
	CleanupExpiredSessions(ctx context.Context) (int, error)
	Close() error
}
