package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmcleod/recoverydesk/identity"
	icrypto "github.com/jmcleod/recoverydesk/internal/crypto"
	"github.com/jmcleod/recoverydesk/internal/util"
	"github.com/jmcleod/recoverydesk/internal/uuid"
	"github.com/jmcleod/recoverydesk/storage"
)

const (
	accountNamespace  = "__accounts"
	accountRecordType = "ACCOUNT"
	emailIndexType    = "EMAIL"
	accountRecordVer  = 1

	minPasswordLen = 8
	maxPasswordLen = 128
	maxNameLen     = 100
	maxPhoneLen    = 32
	maxAvatarLen   = 2048
)

// accountRecord is the stored form of an account. It is sealed with a key
// derived from the server secret; version tracks the envelope version for
// compare-and-swap updates.
type accountRecord struct {
	ID                string          `json:"id"`
	Email             string          `json:"email"`
	PasswordHash      string          `json:"password_hash"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	Phone             string          `json:"phone,omitempty"`
	Avatar            string          `json:"avatar,omitempty"`
	Role              identity.Role   `json:"role"`
	Status            identity.Status `json:"status"`
	EmailVerified     bool            `json:"email_verified"`
	TOTPSecret        string          `json:"totp_secret,omitempty"`
	PendingTOTPSecret string          `json:"pending_totp_secret,omitempty"`
	PendingTOTPExpiry time.Time       `json:"pending_totp_expiry,omitzero"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	version uint64
}

func (rec *accountRecord) user() *identity.User {
	return &identity.User{
		ID:               rec.ID,
		Email:            rec.Email,
		FirstName:        rec.FirstName,
		LastName:         rec.LastName,
		Role:             rec.Role,
		Status:           rec.Status,
		TwoFactorEnabled: rec.TOTPSecret != "",
		EmailVerified:    rec.EmailVerified,
		Avatar:           rec.Avatar,
		Phone:            rec.Phone,
		CreatedAt:        rec.CreatedAt,
	}
}

// NewUser describes an account created by an operator rather than through
// public registration.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      identity.Role
}

// CreateUser creates an active, verified account with the given role.
func (a *API) CreateUser(ctx context.Context, nu NewUser) (*identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("%q: %w", nu.Role, identity.ErrInvalidRole)
	}
	rec, err := a.newAccount(RegisterRequest{
		Email:     nu.Email,
		Password:  nu.Password,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Phone:     nu.Phone,
	}, nu.Role)
	if err != nil {
		return nil, err
	}
	if err := a.setPassword(rec, nu.Password); err != nil {
		return nil, err
	}
	rec.Status = identity.StatusActive
	rec.EmailVerified = true
	if err := a.insertAccount(rec); err != nil {
		return nil, err
	}
	return rec.user(), nil
}

// newAccount validates req and builds an unsaved account. The password is
// validated but not hashed; see setPassword.
func (a *API) newAccount(req RegisterRequest, role identity.Role) (*accountRecord, error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	first, err := validateName("first name", req.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := validateName("last name", req.LastName)
	if err != nil {
		return nil, err
	}
	phone := strings.TrimSpace(req.Phone)
	if len(phone) > maxPhoneLen {
		return nil, validationError("phone number is too long")
	}

	now := a.now().UTC()
	return &accountRecord{
		ID:        uuid.New(),
		Email:     email,
		FirstName: first,
		LastName:  last,
		Phone:     phone,
		Role:      role,
		Status:    identity.StatusPendingVerification,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// setPassword hashes password into rec. This is the expensive step of
// registration and reset.
func (a *API) setPassword(rec *accountRecord, password string) error {
	hash, err := util.HashPassword(password, a.passwordParams)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	rec.PasswordHash = hash
	return nil
}

// insertAccount writes the email index and the account in one batch. The
// index is created with PutCAS at version 0, so a concurrent registration of
// the same address fails atomically.
func (a *API) insertAccount(rec *accountRecord) error {
	env, err := a.sealAccount(rec, 1)
	if err != nil {
		return err
	}
	idx := storage.RawRecord([]byte(rec.ID), 1)
	err = a.repo.Batch(accountNamespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(emailIndexType, emailLookupID(rec.Email), 0, idx); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return ErrEmailTaken
			}
			return err
		}
		return tx.PutCAS(accountRecordType, rec.ID, 0, env)
	})
	if err != nil {
		return err
	}
	rec.version = 1
	return nil
}

// saveAccount replaces the stored account if nobody else changed it since it
// was loaded. A lost race surfaces as storage.ErrCASFailed.
func (a *API) saveAccount(rec *accountRecord) error {
	rec.UpdatedAt = a.now().UTC()
	env, err := a.sealAccount(rec, rec.version+1)
	if err != nil {
		return err
	}
	if err := a.repo.PutCAS(accountNamespace, accountRecordType, rec.ID, rec.version, env); err != nil {
		return err
	}
	rec.version++
	return nil
}

func (a *API) loadAccount(id string) (*accountRecord, error) {
	env, err := a.repo.Get(accountNamespace, accountRecordType, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	key, err := a.recordKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening record key enclave: %w", err)
	}
	defer key.Destroy()

	data, err := storage.OpenRecord(key.Bytes(), env, accountAAD(id))
	if err != nil {
		return nil, fmt.Errorf("opening account record: %w", err)
	}
	defer util.WipeBytes(data)

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding account record: %w", err)
	}
	rec.version = env.Version
	return &rec, nil
}

func (a *API) loadAccountByEmail(email string) (*accountRecord, error) {
	env, err := a.repo.Get(accountNamespace, emailIndexType, emailLookupID(email))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	id, err := storage.OpenRaw(env)
	if err != nil {
		return nil, fmt.Errorf("reading email index: %w", err)
	}
	return a.loadAccount(string(id))
}

func (a *API) sealAccount(rec *accountRecord, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	key, err := a.recordKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening record key enclave: %w", err)
	}
	defer key.Destroy()
	return storage.SealRecord(key.Bytes(), data, accountAAD(rec.ID), version)
}

func accountAAD(id string) []byte {
	return icrypto.AADRecord(accountNamespace, accountRecordType, id, accountRecordVer)
}

// emailLookupID is the index key for an address: a SHA-256 of the normalized
// form, so stored keys and rate-limit state never hold the address itself.
func emailLookupID(email string) string {
	sum := sha256.Sum256([]byte(util.NormalizeEmail(email)))
	return util.HexEncode(sum[:])
}

type validationError string

func (e validationError) Error() string { return string(e) }

func validateEmail(raw string) (string, error) {
	email := util.NormalizeEmail(raw)
	if email == "" {
		return "", validationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationError("email address is invalid")
	}
	return email, nil
}

func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < minPasswordLen:
		return validationError(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	case n > maxPasswordLen:
		return validationError(fmt.Sprintf("password must be at most %d characters", maxPasswordLen))
	}
	return nil
}

func validateName(field, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", validationError(field + " is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", validationError(field + " is too long")
	}
	return name, nil
}
