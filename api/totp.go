package api

import (
	"net/http"
	"time"

	"github.com/jmcleod/recoverydesk/internal/totp"
)

const totpSetupTTL = 10 * time.Minute

// EnableTwoFactor handles POST /auth/2fa/enable. It starts enrollment: a
// fresh secret is kept as pending until VerifyTwoFactorSetup confirms a code
// from it.
func (a *API) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	rec := accountFromContext(r.Context())
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if rec.TOTPSecret != "" {
		writeError(w, http.StatusBadRequest, "two-factor authentication is already enabled")
		return
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		writeInternalError(w, "failed to generate 2fa secret", err)
		return
	}
	rec.PendingTOTPSecret = secret
	rec.PendingTOTPExpiry = a.now().Add(totpSetupTTL).UTC()
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditTwoFactorSetup, r, rec.ID)
	writeJSON(w, http.StatusOK, TwoFactorSetupResponse{
		Secret: secret,
		QRCode: totp.URL(totpIssuer, secret, rec.Email),
	})
}

// VerifyTwoFactorSetup handles POST /auth/2fa/verify-setup.
func (a *API) VerifyTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	rec := accountFromContext(r.Context())
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	req, ok := decodeJSON[CodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if rec.PendingTOTPSecret == "" || a.now().After(rec.PendingTOTPExpiry) {
		writeError(w, http.StatusBadRequest, "2fa setup expired; start setup again")
		return
	}
	if !totp.Verify(rec.PendingTOTPSecret, req.Code, a.now()) {
		a.audit.logFailure(AuditTwoFactorFailure, r, "invalid setup code")
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	rec.TOTPSecret = rec.PendingTOTPSecret
	rec.PendingTOTPSecret = ""
	rec.PendingTOTPExpiry = time.Time{}
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditTwoFactorEnabled, r, rec.ID)
	writeMessage(w, "Two-factor authentication enabled")
}

// DisableTwoFactor handles POST /auth/2fa/disable. A current code is
// required.
func (a *API) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	rec := accountFromContext(r.Context())
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	req, ok := decodeJSON[CodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if rec.TOTPSecret == "" {
		writeError(w, http.StatusBadRequest, "two-factor authentication is not enabled")
		return
	}
	if !totp.Verify(rec.TOTPSecret, req.Code, a.now()) {
		a.audit.logFailure(AuditTwoFactorFailure, r, "invalid disable code")
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	rec.TOTPSecret = ""
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditTwoFactorDisabled, r, rec.ID)
	writeMessage(w, "Two-factor authentication disabled")
}
