package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound indicates the token does not map to a live session
var ErrSessionNotFound = errors.New("session not found")

// CookieName is the session cookie set after a successful login
const CookieName = "shelf_session"

// Session is a server-side login record
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Store persists login sessions
type Store interface {
	// Establish creates a session for the user and returns it
	Establish(ctx context.Context, userID string) (*Session, error)

	// Get returns the live session for token, or ErrSessionNotFound
	Get(ctx context.Context, token string) (*Session, error)

	// Destroy removes the session for token. Destroying an unknown token
	// is not an error.
	Destroy(ctx context.Context, token string) error
}

// newToken returns a 256-bit random token in hex
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
