package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/internal/totp"
	"github.com/jmcleod/recoverydesk/internal/util"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgChallengeExpired   = "Verification session expired; log in again"
	msgInvalidCode        = "Invalid verification code"
)

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	// Rate-limit registration before any expensive work.
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regGlobalLimiter.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, "too many requests; try again later")
		return
	}
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "too many requests; try again later")
		return
	}

	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	rec, err := a.newAccount(req, identity.RoleUser)
	if err != nil {
		mapError(w, err)
		return
	}

	// Record the request against both limiters before the expensive KDF.
	a.regIPLimiter.record(clientIP)
	a.regGlobalLimiter.record()

	if err := a.setPassword(rec, req.Password); err != nil {
		writeInternalError(w, "failed to create account", err)
		return
	}
	if !a.requireVerification {
		rec.Status = identity.StatusActive
	}
	if err := a.insertAccount(rec); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			a.audit.logFailure(AuditRegister, r, "email already registered")
		}
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditRegister, r, rec.ID)

	if rec.Status == identity.StatusPendingVerification {
		a.sendActionMail(r, MailVerifyEmail, rec)
		writeJSON(w, http.StatusCreated, AuthResponse{RequiresVerification: true, Email: rec.Email})
		return
	}
	token, err := a.issueSession(rec)
	if err != nil {
		writeInternalError(w, "failed to initialize session", err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{User: rec.user(), AccessToken: token})
}

// Login handles POST /auth/login. Depending on the account it answers a
// verification notice, a 2FA challenge, or an access token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if util.NormalizeEmail(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	accountID := emailLookupID(req.Email)
	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global → IP → account.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return
	}
	if blocked, retryAfter := a.accountLimiter.check(accountID); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited")
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return
	}

	recordLoginFailure := func(reason string, extra ...slog.Attr) {
		a.globalLimiter.record()
		a.ipLimiter.record(clientIP)
		a.accountLimiter.record(accountID)
		a.audit.logFailure(AuditLoginFailure, r, reason, extra...)
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	}

	rec, err := a.loadAccountByEmail(req.Email)
	if errors.Is(err, ErrAccountNotFound) {
		recordLoginFailure("account not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to load account", err)
		return
	}
	match, err := util.VerifyPassword(req.Password, rec.PasswordHash)
	if err != nil || !match {
		recordLoginFailure("invalid password", slog.String("account_id", rec.ID))
		return
	}

	// Credentials are good; clear rate-limit state.
	a.accountLimiter.reset(accountID)
	a.ipLimiter.reset(clientIP)

	switch {
	case rec.Status == identity.StatusSuspended:
		a.audit.logFailure(AuditLoginFailure, r, "account suspended", slog.String("account_id", rec.ID))
		writeError(w, http.StatusForbidden, "account suspended")
	case rec.Status == identity.StatusPendingVerification && a.requireVerification:
		a.audit.logEvent(AuditLoginUnverified, r, rec.ID)
		writeJSON(w, http.StatusOK, AuthResponse{RequiresVerification: true, Email: rec.Email})
	case rec.TOTPSecret != "":
		temp, _, err := a.issueToken(rec.ID, "", tokenTypeChallenge, challengeTTL)
		if err != nil {
			writeInternalError(w, "failed to start 2fa challenge", err)
			return
		}
		a.audit.logEvent(AuditTwoFactorChallenge, r, rec.ID)
		writeJSON(w, http.StatusOK, AuthResponse{RequiresTwoFactor: true, TempToken: temp})
	default:
		token, err := a.issueSession(rec)
		if err != nil {
			writeInternalError(w, "failed to initialize session", err)
			return
		}
		a.audit.logEvent(AuditLoginSuccess, r, rec.ID)
		writeJSON(w, http.StatusOK, AuthResponse{User: rec.user(), AccessToken: token})
	}
}

// VerifyTwoFactor handles POST /auth/2fa/verify, completing a login that
// answered a 2FA challenge. A challenge allows maxChallengeAttempts wrong
// codes and can be redeemed once.
func (a *API) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyTwoFactorRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.TempToken == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "tempToken and code are required")
		return
	}

	claims, err := a.parseToken(req.TempToken, tokenTypeChallenge)
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgChallengeExpired)
		return
	}
	if err := a.challenges.check(claims.ID); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rec, err := a.loadAccount(claims.Subject)
	if err != nil || rec.TOTPSecret == "" || rec.Status == identity.StatusSuspended {
		writeError(w, http.StatusUnauthorized, msgChallengeExpired)
		return
	}

	if !totp.Verify(rec.TOTPSecret, req.Code, a.now()) {
		left := a.challenges.recordFailure(claims.ID, claims.ExpiresAt.Time)
		a.audit.logFailure(AuditTwoFactorFailure, r, "invalid code",
			slog.String("account_id", rec.ID), slog.Int("attempts_left", left))
		if left == 0 {
			writeError(w, http.StatusUnauthorized, errChallengeExhausted.Error())
			return
		}
		writeError(w, http.StatusUnauthorized, msgInvalidCode)
		return
	}
	if err := a.challenges.redeem(claims.ID, claims.ExpiresAt.Time); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	token, err := a.issueSession(rec)
	if err != nil {
		writeInternalError(w, "failed to initialize session", err)
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, rec.ID, slog.Bool("two_factor", true))
	writeJSON(w, http.StatusOK, VerifyTwoFactorResponse{User: rec.user(), AccessToken: token})
}

// Logout handles POST /auth/logout. It always succeeds; a valid bearer token
// has its session revoked.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var accountID string
	if raw, ok := bearerToken(r); ok {
		if claims, err := a.parseToken(raw, tokenTypeAccess); err == nil {
			a.sessions.Delete(claims.ID)
			accountID = claims.Subject
		}
	}
	a.audit.logEvent(AuditLogout, r, accountID)
	writeMessage(w, "Logged out")
}

// issueSession signs an access token for rec and registers its session.
func (a *API) issueSession(rec *accountRecord) (string, error) {
	token, claims, err := a.issueToken(rec.ID, rec.Role, tokenTypeAccess, accessTokenTTL)
	if err != nil {
		return "", err
	}
	a.sessions.Put(claims.ID, AuthSession{
		UserID:         rec.ID,
		Role:           rec.Role,
		ExpiresAt:      claims.ExpiresAt.Time,
		LastAccessedAt: a.now(),
	})
	return token, nil
}
