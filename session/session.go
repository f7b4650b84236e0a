// Package session holds the client's authentication state.
//
// A Store is the single source of truth for who the client believes is
// signed in. It is created by the application root and passed to whatever
// needs it; there is no package-level instance. Every transition replaces
// the whole Session value, so readers never observe a half-applied change.
package session

import (
	"errors"

	"github.com/jmcleod/recoverydesk/identity"
)

var (
	// ErrNoChallenge is returned by Verify2FA when no login challenge is pending.
	ErrNoChallenge = errors.New("no two-factor challenge pending")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSuperseded is returned when an operation succeeded on the server but
	// a newer operation committed first, so its result was discarded.
	ErrSuperseded = errors.New("superseded by a newer operation")
	// ErrUnexpectedResponse is returned when the server answers with a shape
	// the operation does not allow, such as a 2FA challenge on register.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrInvalidPersistedState is returned by Restore when the stored blob
	// fails validation. The store stays empty.
	ErrInvalidPersistedState = errors.New("invalid persisted session")
)

// Session is a snapshot of the client's authentication state.
type Session struct {
	User        *identity.User
	Token       string
	Requires2FA bool
	TempToken   string
	Error       string
}

// IsAuthenticated reports whether a full session is established.
func (s Session) IsAuthenticated() bool {
	return s.User != nil && s.Token != ""
}

// Empty reports whether s equals the initial state.
func (s Session) Empty() bool {
	return s.User == nil && s.Token == "" && !s.Requires2FA && s.TempToken == "" && s.Error == ""
}

// Role returns the authenticated user's role, or "" when there is none.
func (s Session) Role() identity.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

func (s Session) clone() Session {
	s.User = s.User.Clone()
	return s
}

func authenticated(user *identity.User, token string) Session {
	return Session{User: user.Clone(), Token: token}
}

func challenge(tempToken string) Session {
	return Session{Requires2FA: true, TempToken: tempToken}
}

// LoginResult tells the caller where to go after Login or Register. The
// zero value means a session was established.
type LoginResult struct {
	RequiresVerification bool
	Email                string
	RequiresTwoFactor    bool
}
