package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/internal/uuid"
)

const (
	accessTokenTTL       = 24 * time.Hour
	challengeTTL         = 5 * time.Minute
	maxChallengeAttempts = 5
	tokenIssuer          = "recoverydesk"

	tokenTypeAccess    = "access"
	tokenTypeChallenge = "2fa"
)

// errChallengeExhausted is returned once a challenge has seen too many wrong
// codes or has already been redeemed.
var errChallengeExhausted = errors.New("verification session is no longer valid; log in again")

// tokenClaims is the claim set of both access tokens and 2FA challenge
// tokens. Type keeps one from being accepted as the other.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role identity.Role `json:"role,omitempty"`
	Type string        `json:"typ"`
}

// issueToken signs a new HS256 token for userID.
func (a *API) issueToken(userID string, role identity.Role, typ string, ttl time.Duration) (string, *tokenClaims, error) {
	now := a.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: typ,
	}

	key, err := a.signingKey.Open()
	if err != nil {
		return "", nil, fmt.Errorf("opening signing key enclave: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// parseToken verifies raw and checks it is of the wanted type. Every failure
// is reported as ErrInvalidToken.
func (a *API) parseToken(raw, typ string) (*tokenClaims, error) {
	key, err := a.signingKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key enclave: %w", err)
	}
	defer key.Destroy()

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key.Bytes(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// challengeTracker counts wrong codes per 2FA challenge (keyed by the
// challenge token's jti) and burns challenges that are exhausted or redeemed.
type challengeTracker struct {
	mu      sync.Mutex
	entries map[string]*challengeEntry
	now     func() time.Time
}

type challengeEntry struct {
	failures  int
	burned    bool
	expiresAt time.Time
}

func newChallengeTracker(now func() time.Time) *challengeTracker {
	return &challengeTracker{
		entries: make(map[string]*challengeEntry),
		now:     now,
	}
}

// check reports errChallengeExhausted for a burned challenge.
func (t *challengeTracker) check(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.burned {
		return errChallengeExhausted
	}
	return nil
}

// recordFailure counts a wrong code and returns the attempts left.
func (t *challengeTracker) recordFailure(id string, expiresAt time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	e := t.entry(id, expiresAt)
	e.failures++
	if e.failures >= maxChallengeAttempts {
		e.burned = true
		return 0
	}
	return maxChallengeAttempts - e.failures
}

// redeem burns the challenge so the token cannot be replayed. It fails if
// the challenge was already burned.
func (t *challengeTracker) redeem(id string, expiresAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	e := t.entry(id, expiresAt)
	if e.burned {
		return errChallengeExhausted
	}
	e.burned = true
	return nil
}

func (t *challengeTracker) entry(id string, expiresAt time.Time) *challengeEntry {
	e, ok := t.entries[id]
	if !ok {
		e = &challengeEntry{expiresAt: expiresAt}
		t.entries[id] = e
	}
	return e
}

// sweepLocked drops entries whose token has expired anyway.
func (t *challengeTracker) sweepLocked() {
	now := t.now()
	for id, e := range t.entries {
		if now.After(e.expiresAt) {
			delete(t.entries, id)
		}
	}
}
