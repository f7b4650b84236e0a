package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmcleod/recoverydesk/identity"
)

const msgResetRequested = "If an account exists for that email, a reset link has been sent"

// ForgotPassword handles POST /auth/forgot-password. The answer is the same
// whether or not the account exists.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		writeRateLimited(w, retryAfter, "too many requests; try again later")
		return
	}
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		mapError(w, err)
		return
	}
	a.regIPLimiter.record(clientIP)

	rec, err := a.loadAccountByEmail(email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		a.audit.logFailure(AuditPasswordResetRequest, r, "account not found")
	case err != nil:
		writeInternalError(w, "failed to load account", err)
		return
	case rec.Status == identity.StatusSuspended:
		a.audit.logFailure(AuditPasswordResetRequest, r, "account suspended",
			slog.String("account_id", rec.ID))
	default:
		a.audit.logEvent(AuditPasswordResetRequest, r, rec.ID)
		a.sendActionMail(r, MailPasswordReset, rec)
	}
	writeMessage(w, msgResetRequested)
}

// ResetPassword handles POST /auth/reset-password. A successful reset revokes
// every session of the account and counts as proof of the address.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ResetPasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	// Validate first so a weak password does not burn the token.
	if err := validatePassword(req.NewPassword); err != nil {
		mapError(w, err)
		return
	}
	tok, err := a.consumeActionToken(actionResetPassword, req.Token)
	if err != nil {
		mapError(w, err)
		return
	}
	rec, err := a.loadAccount(tok.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			mapError(w, ErrInvalidActionLink)
			return
		}
		writeInternalError(w, "failed to load account", err)
		return
	}
	if rec.Status == identity.StatusSuspended || rec.Email != tok.Email {
		mapError(w, ErrInvalidActionLink)
		return
	}

	if err := a.setPassword(rec, req.NewPassword); err != nil {
		writeInternalError(w, "failed to reset password", err)
		return
	}
	rec.EmailVerified = true
	rec.Status = identity.StatusActive
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}

	a.sessions.RevokeUser(rec.ID)
	a.accountLimiter.reset(emailLookupID(rec.Email))
	a.audit.logEvent(AuditPasswordReset, r, rec.ID)
	writeMessage(w, "Password has been reset; log in with your new password")
}

// VerifyEmail handles POST /auth/verify-email.
func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[TokenRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	tok, err := a.consumeActionToken(actionVerifyEmail, req.Token)
	if err != nil {
		mapError(w, err)
		return
	}
	rec, err := a.loadAccount(tok.UserID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			mapError(w, ErrInvalidActionLink)
			return
		}
		writeInternalError(w, "failed to load account", err)
		return
	}
	if rec.Email != tok.Email || rec.Status == identity.StatusSuspended {
		mapError(w, ErrInvalidActionLink)
		return
	}

	rec.EmailVerified = true
	rec.Status = identity.StatusActive
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditEmailVerified, r, rec.ID)
	writeMessage(w, "Email verified; you can now log in")
}

// ResendVerification handles POST /auth/resend-verification. Like
// ForgotPassword it does not reveal whether the account exists.
func (a *API) ResendVerification(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		writeRateLimited(w, retryAfter, "too many requests; try again later")
		return
	}
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		mapError(w, err)
		return
	}
	a.regIPLimiter.record(clientIP)

	rec, err := a.loadAccountByEmail(email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
	case err != nil:
		writeInternalError(w, "failed to load account", err)
		return
	case rec.Status == identity.StatusPendingVerification:
		a.audit.logEvent(AuditVerificationResent, r, rec.ID)
		a.sendActionMail(r, MailVerifyEmail, rec)
	}
	writeMessage(w, "If the account is awaiting verification, a new link has been sent")
}

// sendActionMail issues a single-use token of the given kind and mails the
// link. Failures are logged, not returned: the caller's answer must not
// depend on mail delivery.
func (a *API) sendActionMail(r *http.Request, kind string, rec *accountRecord) {
	var (
		action  string
		ttl     time.Duration
		path    string
		subject string
	)
	switch kind {
	case MailVerifyEmail:
		action, ttl, path, subject = actionVerifyEmail, verificationTTL, "/verify-email", "Verify your email address"
	case MailPasswordReset:
		action, ttl, path, subject = actionResetPassword, resetTTL, "/reset-password", "Reset your password"
	default:
		a.logger.Error("unknown mail kind", "kind", kind)
		return
	}

	token, err := a.issueActionToken(action, rec, ttl)
	if err != nil {
		a.logger.Error("failed to issue action token", "kind", kind, "error", err)
		return
	}
	mail := Mail{
		Kind:    kind,
		To:      rec.Email,
		Name:    rec.user().DisplayName(),
		Subject: subject,
		Link:    a.publicURL + path + "?token=" + url.QueryEscape(token),
		Token:   token,
		Expires: a.now().Add(ttl).UTC(),
	}
	if err := a.mailer.Send(r.Context(), mail); err != nil {
		a.logger.Error("failed to send mail", "kind", kind, "account_id", rec.ID, "error", err)
	}
}
