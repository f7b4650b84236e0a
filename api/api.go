// Package api implements the account service behind the client: registration
// with email verification, password login with an optional TOTP second
// factor, password reset, profile management and 2FA enrollment.
package api

import (
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	icrypto "github.com/jmcleod/recoverydesk/internal/crypto"
	"github.com/jmcleod/recoverydesk/internal/util"
	"github.com/jmcleod/recoverydesk/storage"
)

// MountPath is where the server mounts Router.
const MountPath = "/api"

const (
	totpIssuer        = "RecoveryDesk"
	janitorInterval   = 10 * time.Minute
	registerWindow    = time.Minute
	registerMax       = 50
	registerLockout   = 5 * time.Minute
	loginGlobalWindow = time.Minute
	loginGlobalMax    = 100
	loginGlobalLock   = 5 * time.Minute
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo       storage.Repository
	signingKey *memguard.Enclave
	recordKey  *memguard.Enclave
	sessions   SessionStore
	mailer     Mailer
	audit      *auditLogger
	logger     *slog.Logger

	passwordParams      util.Argon2idParams
	requireVerification bool
	publicURL           string
	idleTimeout         time.Duration
	trustedProxies      []netip.Prefix
	alertFn             AlertFunc
	webhookURL          string
	webhookAuth         string
	now                 func() time.Time

	accountLimiter   *lockoutLimiter
	ipLimiter        *lockoutLimiter
	globalLimiter    *windowLimiter
	regIPLimiter     *lockoutLimiter
	regGlobalLimiter *windowLimiter
	challenges       *challengeTracker

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(s SessionStore) Option {
	return func(a *API) { a.sessions = s }
}

// WithIdleTimeout sets the idle timeout of the default session store.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *API) { a.idleTimeout = d }
}

// WithMailer sets the mailer for verification and reset links. The default
// logs them.
func WithMailer(m Mailer) Option {
	return func(a *API) { a.mailer = m }
}

// WithAlertFunc registers a callback for anomaly alerts (failure spikes).
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook mirrors audit events to url. authHeader, if set, has the
// form "Header: Value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are believed
// when rate limiting by client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithPasswordParams overrides the argon2id parameters for new hashes.
func WithPasswordParams(p util.Argon2idParams) Option {
	return func(a *API) { a.passwordParams = p }
}

// WithRequireEmailVerification controls whether new accounts must verify
// their address before they can log in. Defaults to true.
func WithRequireEmailVerification(require bool) Option {
	return func(a *API) { a.requireVerification = require }
}

// WithPublicURL sets the base URL used in links sent by email.
func WithPublicURL(u string) Option {
	return func(a *API) { a.publicURL = strings.TrimRight(u, "/") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates an API over repo. secret is the server secret (at least 32
// bytes) from which the token signing key and the record sealing key are
// derived; it is not retained.
func New(repo storage.Repository, secret []byte, opts ...Option) (*API, error) {
	if repo == nil {
		return nil, errors.New("api: repository is required")
	}
	signingKey, err := icrypto.DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	recordKey, err := icrypto.DeriveRecordKey(secret, accountNamespace)
	if err != nil {
		util.WipeBytes(signingKey)
		return nil, err
	}

	a := &API{
		repo:                repo,
		signingKey:          memguard.NewEnclave(signingKey),
		recordKey:           memguard.NewEnclave(recordKey),
		passwordParams:      util.DefaultArgon2idParams(),
		requireVerification: true,
		publicURL:           "http://localhost:8080",
		now:                 time.Now,
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.sessions == nil {
		a.sessions = newMemorySessionStore(a.idleTimeout, a.now)
	}
	if a.mailer == nil {
		a.mailer = NewLogMailer(a.logger)
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger)
	}

	a.accountLimiter = newLockoutLimiter(accountLockout, a.now)
	a.ipLimiter = newLockoutLimiter(ipLockout, a.now)
	a.globalLimiter = newWindowLimiter(loginGlobalWindow, loginGlobalMax, loginGlobalLock, a.now)
	a.regIPLimiter = newLockoutLimiter(registrationLockout, a.now)
	a.regGlobalLimiter = newWindowLimiter(registerWindow, registerMax, registerLockout, a.now)
	a.challenges = newChallengeTracker(a.now)

	go a.janitor()
	return a, nil
}

// Close stops background work and flushes the audit webhook.
func (a *API) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		if a.audit != nil && a.audit.webhook != nil {
			a.audit.webhook.close()
		}
	})
}

// janitor periodically forgets expired rate-limit state.
func (a *API) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.accountLimiter.sweep()
			a.ipLimiter.sweep()
			a.regIPLimiter.sweep()
		}
	}
}

// Router returns a chi.Router with all API routes mounted. The server mounts
// it at MountPath.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: MountPath + "/openapi.yaml",
		Path:    strings.TrimPrefix(MountPath, "/") + "/docs",
		Title:   "RecoveryDesk API",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: MountPath + "/openapi.yaml",
		Path:    strings.TrimPrefix(MountPath, "/") + "/redoc",
		Title:   "RecoveryDesk API",
	}, nil))

	r.Post("/auth/register", a.Register)
	r.Post("/auth/login", a.Login)
	r.Post("/auth/2fa/verify", a.VerifyTwoFactor)
	r.Post("/auth/logout", a.Logout)
	r.Post("/auth/forgot-password", a.ForgotPassword)
	r.Post("/auth/reset-password", a.ResetPassword)
	r.Post("/auth/verify-email", a.VerifyEmail)
	r.Post("/auth/resend-verification", a.ResendVerification)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/auth/2fa/enable", a.EnableTwoFactor)
		r.Post("/auth/2fa/disable", a.DisableTwoFactor)
		r.Post("/auth/2fa/verify-setup", a.VerifyTwoFactorSetup)
		r.Get("/users/profile", a.GetProfile)
		r.Patch("/users/profile", a.UpdateProfile)
	})

	return r
}
