package api

import (
	"time"

	"github.com/jmcleod/recoverydesk/identity"
)

// SessionStore abstracts server-side session CRUD so that sessions can be
// stored in-memory (default) or in persistent backing storage. Sessions are
// keyed by the jti of the access token that represents them.
type SessionStore interface {
	// Get retrieves a session by ID. Returns false if the session does not
	// exist, has expired, or has exceeded the idle timeout.
	Get(id string) (AuthSession, bool)
	// Put creates or updates a session.
	Put(id string, session AuthSession)
	// Delete removes a session.
	Delete(id string)
	// RevokeUser removes every session belonging to userID.
	RevokeUser(userID string)
}

// AuthSession holds the server-side state for an issued access token.
type AuthSession struct {
	UserID         string        `json:"user_id"`
	Role           identity.Role `json:"role"`
	ExpiresAt      time.Time     `json:"expires_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

func (s AuthSession) expired(now time.Time, idleTimeout time.Duration) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	return idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout
}
