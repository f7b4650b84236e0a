package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess         AuditEvent = "login_success"
	AuditLoginFailure         AuditEvent = "login_failure"
	AuditLoginRateLimited     AuditEvent = "login_rate_limited"
	AuditLoginUnverified      AuditEvent = "login_unverified"
	AuditRegister             AuditEvent = "register"
	AuditRegisterRateLimited  AuditEvent = "register_rate_limited"
	AuditLogout               AuditEvent = "logout"
	AuditTwoFactorChallenge   AuditEvent = "2fa_challenge"
	AuditTwoFactorFailure     AuditEvent = "2fa_failure"
	AuditTwoFactorSetup       AuditEvent = "2fa_setup"
	AuditTwoFactorEnabled     AuditEvent = "2fa_enabled"
	AuditTwoFactorDisabled    AuditEvent = "2fa_disabled"
	AuditPasswordResetRequest AuditEvent = "password_reset_requested"
	AuditPasswordReset        AuditEvent = "password_reset"
	AuditEmailVerified        AuditEvent = "email_verified"
	AuditVerificationResent   AuditEvent = "verification_resent"
	AuditProfileUpdated       AuditEvent = "profile_updated"
	AuditAccountCreated       AuditEvent = "account_created"
)

// auditLogger wraps slog.Logger for structured security audit logging and
// optionally mirrors every entry to a webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. Account IDs are user IDs; email
// addresses and credentials never appear in audit entries.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, r, now, attrs))
	}
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_id", accountID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or refused attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
