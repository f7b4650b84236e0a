package api

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/recoverydesk/internal/util"
	"github.com/jmcleod/recoverydesk/storage"
)

const (
	actionNamespace = "__actions"

	actionVerifyEmail   = "VERIFY_EMAIL"
	actionResetPassword = "RESET_PASSWORD"

	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour

	actionTokenBytes = 32
)

// actionToken is a single-use token mailed to the account owner. Only the
// SHA-256 of the token is used as the record ID.
type actionToken struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used,omitempty"`
}

func (a *API) issueActionToken(kind string, rec *accountRecord, ttl time.Duration) (string, error) {
	raw, err := util.RandomToken(actionTokenBytes)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(actionToken{
		UserID:    rec.ID,
		Email:     rec.Email,
		ExpiresAt: a.now().Add(ttl).UTC(),
	})
	if err != nil {
		return "", err
	}
	if err := a.repo.Put(actionNamespace, kind, actionTokenID(raw), storage.RawRecord(data, 1)); err != nil {
		return "", fmt.Errorf("storing %s token: %w", kind, err)
	}
	return raw, nil
}

// consumeActionToken redeems raw exactly once. The token record is flipped to
// used with a compare-and-swap so two concurrent redemptions cannot both
// succeed, then deleted.
func (a *API) consumeActionToken(kind, raw string) (*actionToken, error) {
	if raw == "" {
		return nil, ErrInvalidActionLink
	}
	id := actionTokenID(raw)
	env, err := a.repo.Get(actionNamespace, kind, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrInvalidActionLink
		}
		return nil, err
	}
	data, err := storage.OpenRaw(env)
	if err != nil {
		return nil, err
	}
	var tok actionToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding %s token: %w", kind, err)
	}
	if tok.Used {
		return nil, ErrInvalidActionLink
	}

	tok.Used = true
	used, err := json.Marshal(tok)
	if err != nil {
		return nil, err
	}
	if err := a.repo.PutCAS(actionNamespace, kind, id, env.Version, storage.RawRecord(used, env.Version+1)); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, ErrInvalidActionLink
		}
		return nil, err
	}
	_ = a.repo.Delete(actionNamespace, kind, id)

	if a.now().After(tok.ExpiresAt) {
		return nil, ErrInvalidActionLink
	}
	return &tok, nil
}

func actionTokenID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return util.HexEncode(sum[:])
}
