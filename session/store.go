package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/recoverydesk/authapi"
	"github.com/jmcleod/recoverydesk/identity"
)

// API is the subset of the auth client the Store drives.
type API interface {
	Login(ctx context.Context, email, password string) (*authapi.AuthResult, error)
	Verify2FA(ctx context.Context, tempToken, code string) (*authapi.AuthResult, error)
	Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.AuthResult, error)
	Logout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) (string, error)
	VerifyEmail(ctx context.Context, token string) (string, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	GetProfile(ctx context.Context, token string) (*identity.User, error)
	UpdateProfile(ctx context.Context, token string, update authapi.ProfileUpdate) (*identity.User, error)
	Enable2FA(ctx context.Context, token string) (*authapi.TwoFactorSetup, error)
	Disable2FA(ctx context.Context, token, code string) (string, error)
	Verify2FASetup(ctx context.Context, token, code string) (string, error)
}

var _ API = (*authapi.Client)(nil)

const defaultLogoutTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*Store)

// WithPersister enables persistence of the durable session subset.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence failures and discarded
// results.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLogoutTimeout bounds the server notification made by Logout.
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Store) { s.logoutTimeout = d }
}

// binding names what an in-flight operation depends on. If that changes
// before the result arrives, the result is stale.
type binding int

const (
	bindNone binding = iota
	bindToken
	bindChallenge
)

// op is an in-flight operation. seq orders operations by start time.
type op struct {
	seq   uint64
	bind  binding
	start Session
}

// Store owns the Session. It is safe for concurrent use.
//
// Every operation takes a sequence number when it starts. Network calls run
// without holding the lock; when a result arrives it is committed only if
// no operation with a higher sequence number has committed in the meantime
// and, for operations bound to a token or challenge, that credential is
// still current. Logout always commits.
type Store struct {
	api           API
	persister     Persister
	logger        *slog.Logger
	logoutTimeout time.Duration

	mu        sync.Mutex
	state     Session
	issued    uint64
	committed uint64
	version   uint64
	listeners []listener
	nextID    int

	publishMu sync.Mutex
	published uint64
}

type listener struct {
	id int
	fn func(Session)
}

// New returns an empty Store driving api.
func New(api API, opts ...Option) *Store {
	s := &Store{
		api:           api,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		logoutTimeout: defaultLogoutTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive every committed state, in commit order.
// fn must not call mutating Store methods. The returned func unregisters it.
func (s *Store) Subscribe(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Restore rehydrates the store from its persister. The stored blob is
// untrusted: anything that fails validation is discarded and overwritten
// with an empty session.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}
	p, err := s.persister.Load()
	if err != nil {
		s.logger.Warn("loading persisted session failed", "error", err)
		return fmt.Errorf("restoring session: %w", err)
	}
	if p == nil {
		return nil
	}
	if err := p.Validate(); err != nil {
		s.logger.Warn("discarding persisted session", "error", err)
		if saveErr := s.persister.Save(&Persisted{}); saveErr != nil {
			s.logger.Warn("clearing persisted session failed", "error", saveErr)
		}
		return fmt.Errorf("%w: %v", ErrInvalidPersistedState, err)
	}
	if !p.IsAuthenticated {
		return nil
	}
	o := s.begin(bindNone)
	s.commit(o, true, func(Session) Session { return authenticated(p.User, p.Token) })
	return nil
}

// Login submits credentials. On a 2FA answer the store enters the challenge
// state and the result has RequiresTwoFactor set; on a verification answer
// the state is left alone and the result carries the email to verify.
func (s *Store) Login(ctx context.Context, email, password string) (LoginResult, error) {
	o := s.begin(bindNone)
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return LoginResult{}, s.fail(o, true, err, "Login failed")
	}

	switch {
	case res.RequiresVerification:
		if !s.commit(o, true, clearError) {
			return LoginResult{}, ErrSuperseded
		}
		return LoginResult{RequiresVerification: true, Email: res.Email}, nil
	case res.RequiresTwoFactor:
		if !s.commit(o, true, func(Session) Session { return challenge(res.TempToken) }) {
			return LoginResult{}, ErrSuperseded
		}
		return LoginResult{RequiresTwoFactor: true}, nil
	}
	if !s.commit(o, true, func(Session) Session { return authenticated(res.User, res.AccessToken) }) {
		return LoginResult{}, ErrSuperseded
	}
	return LoginResult{}, nil
}

// Verify2FA answers the pending login challenge. On failure the challenge
// is kept so the caller can retry.
func (s *Store) Verify2FA(ctx context.Context, code string) error {
	o := s.begin(bindChallenge)
	if o.start.TempToken == "" {
		return ErrNoChallenge
	}
	res, err := s.api.Verify2FA(ctx, o.start.TempToken, code)
	if err == nil && !res.Authenticated() {
		err = fmt.Errorf("2fa verification: %w", ErrUnexpectedResponse)
	}
	if err != nil {
		return s.fail(o, true, err, "Verification failed")
	}
	if !s.commit(o, true, func(Session) Session { return authenticated(res.User, res.AccessToken) }) {
		return ErrSuperseded
	}
	return nil
}

// Register creates an account. Registration never yields a 2FA challenge;
// such an answer is rejected with ErrUnexpectedResponse.
func (s *Store) Register(ctx context.Context, req authapi.RegisterRequest) (LoginResult, error) {
	o := s.begin(bindNone)
	res, err := s.api.Register(ctx, req)
	if err == nil && res.RequiresTwoFactor {
		err = fmt.Errorf("register: %w", ErrUnexpectedResponse)
	}
	if err != nil {
		return LoginResult{}, s.fail(o, true, err, "Registration failed")
	}

	if res.RequiresVerification {
		if !s.commit(o, true, clearError) {
			return LoginResult{}, ErrSuperseded
		}
		return LoginResult{RequiresVerification: true, Email: res.Email}, nil
	}
	if !s.commit(o, true, func(Session) Session { return authenticated(res.User, res.AccessToken) }) {
		return LoginResult{}, ErrSuperseded
	}
	return LoginResult{}, nil
}

// Logout clears the session unconditionally, then tells the server to
// revoke the old token. Server failures are ignored.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.issued++
	token := s.state.Token
	version, snap := s.setLocked(Session{}, s.issued)
	s.mu.Unlock()

	s.publish(version, snap)
	s.notifyLogout(ctx, token)
}

// RefreshUser re-fetches the profile. Any failure is treated as an invalid
// session and logs out, unless a newer operation already committed.
func (s *Store) RefreshUser(ctx context.Context) error {
	o := s.begin(bindToken)
	if !o.start.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	user, err := s.api.GetProfile(ctx, o.start.Token)
	if err != nil {
		s.mu.Lock()
		if s.supersededLocked(o) {
			s.mu.Unlock()
			s.logger.Debug("discarding stale refresh failure", "op", o.seq, "error", err)
			return err
		}
		version, snap := s.setLocked(Session{}, o.seq)
		s.mu.Unlock()

		s.publish(version, snap)
		s.notifyLogout(ctx, o.start.Token)
		return err
	}
	if !s.commit(o, true, func(cur Session) Session {
		cur.User = user
		cur.Error = ""
		return cur
	}) {
		return ErrSuperseded
	}
	return nil
}

// UpdateProfile sends a partial update and replaces the cached user with
// the server's canonical record.
func (s *Store) UpdateProfile(ctx context.Context, update authapi.ProfileUpdate) error {
	o := s.begin(bindToken)
	if !o.start.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	user, err := s.api.UpdateProfile(ctx, o.start.Token, update)
	if err != nil {
		return s.fail(o, true, err, "Profile update failed")
	}
	if !s.commit(o, true, func(cur Session) Session {
		cur.User = user
		cur.Error = ""
		return cur
	}) {
		return ErrSuperseded
	}
	return nil
}

// Enable2FA starts secondary-factor enrollment. The session is unchanged
// until Verify2FASetup succeeds.
func (s *Store) Enable2FA(ctx context.Context) (*authapi.TwoFactorSetup, error) {
	o := s.begin(bindToken)
	if !o.start.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	setup, err := s.api.Enable2FA(ctx, o.start.Token)
	if err != nil {
		return nil, s.fail(o, false, err, "Failed to enable 2FA")
	}
	if !s.commit(o, false, clearError) {
		return nil, ErrSuperseded
	}
	return setup, nil
}

// Disable2FA turns the secondary factor off and updates the cached user.
func (s *Store) Disable2FA(ctx context.Context, code string) error {
	return s.setTwoFactor(ctx, code, false)
}

// Verify2FASetup confirms enrollment and updates the cached user.
func (s *Store) Verify2FASetup(ctx context.Context, code string) error {
	return s.setTwoFactor(ctx, code, true)
}

func (s *Store) setTwoFactor(ctx context.Context, code string, enabled bool) error {
	o := s.begin(bindToken)
	if !o.start.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	var err error
	fallback := "Failed to disable 2FA"
	if enabled {
		fallback = "Failed to confirm 2FA"
		_, err = s.api.Verify2FASetup(ctx, o.start.Token, code)
	} else {
		_, err = s.api.Disable2FA(ctx, o.start.Token, code)
	}
	if err != nil {
		return s.fail(o, true, err, fallback)
	}

	if !s.commit(o, true, func(cur Session) Session {
		if cur.User != nil {
			cur.User.TwoFactorEnabled = enabled
		}
		cur.Error = ""
		return cur
	}) {
		return ErrSuperseded
	}
	return nil
}

// ForgotPassword requests a reset email.
func (s *Store) ForgotPassword(ctx context.Context, email string) (string, error) {
	return s.passThrough("Failed to send reset email", func() (string, error) {
		return s.api.ForgotPassword(ctx, email)
	})
}

// ResetPassword sets a new password with a reset token.
func (s *Store) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	return s.passThrough("Password reset failed", func() (string, error) {
		return s.api.ResetPassword(ctx, token, newPassword)
	})
}

// VerifyEmail confirms an email address.
func (s *Store) VerifyEmail(ctx context.Context, token string) (string, error) {
	return s.passThrough("Email verification failed", func() (string, error) {
		return s.api.VerifyEmail(ctx, token)
	})
}

// ResendVerification asks for a new verification email.
func (s *Store) ResendVerification(ctx context.Context, email string) (string, error) {
	return s.passThrough("Failed to resend verification email", func() (string, error) {
		return s.api.ResendVerification(ctx, email)
	})
}

// passThrough runs a call that does not shape the session. Only the error
// field is touched, and never by a stale result.
func (s *Store) passThrough(fallback string, call func() (string, error)) (string, error) {
	o := s.begin(bindNone)
	msg, err := call()
	if err != nil {
		return "", s.fail(o, false, err, fallback)
	}
	s.commit(o, false, clearError)
	return msg, nil
}

func clearError(cur Session) Session {
	cur.Error = ""
	return cur
}

func (s *Store) begin(b binding) op {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return op{seq: s.issued, bind: b, start: s.state.clone()}
}

func (s *Store) supersededLocked(o op) bool {
	if s.committed > o.seq {
		return true
	}
	switch o.bind {
	case bindToken:
		return s.state.Token != o.start.Token
	case bindChallenge:
		return s.state.TempToken != o.start.TempToken
	}
	return false
}

// commit applies next to a copy of the current state unless o is stale.
// advance marks o as the newest committed operation; operations that only
// annotate the error field leave ordering alone.
func (s *Store) commit(o op, advance bool, next func(Session) Session) bool {
	s.mu.Lock()
	if s.supersededLocked(o) {
		committed := s.committed
		s.mu.Unlock()
		s.logger.Debug("discarding stale result", "op", o.seq, "committed", committed)
		return false
	}
	seq := uint64(0)
	if advance {
		seq = o.seq
	}
	version, snap := s.setLocked(next(s.state.clone()), seq)
	s.mu.Unlock()

	s.publish(version, snap)
	return true
}

// fail records the failure message unless o is stale, and returns err
// either way.
func (s *Store) fail(o op, advance bool, err error, fallback string) error {
	msg := authapi.Message(err, fallback)
	s.commit(o, advance, func(cur Session) Session {
		cur.Error = msg
		return cur
	})
	return err
}

func (s *Store) setLocked(next Session, seq uint64) (uint64, Session) {
	s.state = next
	if seq > s.committed {
		s.committed = seq
	}
	s.version++
	return s.version, next.clone()
}

// publish persists snap and notifies listeners. Publications are applied in
// commit order; one overtaken by a later commit is dropped.
func (s *Store) publish(version uint64, snap Session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if version <= s.published {
		return
	}
	s.published = version

	if s.persister != nil {
		if err := s.persister.Save(persistedFrom(snap)); err != nil {
			s.logger.Warn("persisting session failed", "error", err)
		}
	}

	s.mu.Lock()
	fns := make([]func(Session), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap.clone())
	}
}

func (s *Store) notifyLogout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
	defer cancel()
	if err := s.api.Logout(ctx, token); err != nil {
		s.logger.Debug("server logout failed", "error", err)
	}
}
