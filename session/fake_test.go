package session

import (
	"context"
	"errors"
	"sync"

	"github.com/jmcleod/recoverydesk/authapi"
	"github.com/jmcleod/recoverydesk/identity"
)

var errNotConfigured = errors.New("fake: not configured")

// fakeAPI is a scriptable API. Unset hooks fail with errNotConfigured.
type fakeAPI struct {
	mu          sync.Mutex
	logoutCalls []string

	login          func(email, password string) (*authapi.AuthResult, error)
	verify2FA      func(tempToken, code string) (*authapi.AuthResult, error)
	register       func(req authapi.RegisterRequest) (*authapi.AuthResult, error)
	logout         func(token string) error
	getProfile     func(ctx context.Context, token string) (*identity.User, error)
	updateProfile  func(token string, u authapi.ProfileUpdate) (*identity.User, error)
	enable2FA      func(token string) (*authapi.TwoFactorSetup, error)
	disable2FA     func(token, code string) (string, error)
	verify2FASetup func(token, code string) (string, error)
	message        func(op, arg string) (string, error)
}

func (f *fakeAPI) Login(_ context.Context, email, password string) (*authapi.AuthResult, error) {
	if f.login == nil {
		return nil, errNotConfigured
	}
	return f.login(email, password)
}

func (f *fakeAPI) Verify2FA(_ context.Context, tempToken, code string) (*authapi.AuthResult, error) {
	if f.verify2FA == nil {
		return nil, errNotConfigured
	}
	return f.verify2FA(tempToken, code)
}

func (f *fakeAPI) Register(_ context.Context, req authapi.RegisterRequest) (*authapi.AuthResult, error) {
	if f.register == nil {
		return nil, errNotConfigured
	}
	return f.register(req)
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	f.logoutCalls = append(f.logoutCalls, token)
	f.mu.Unlock()
	if f.logout == nil {
		return nil
	}
	return f.logout(token)
}

func (f *fakeAPI) logouts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutCalls...)
}

func (f *fakeAPI) ForgotPassword(_ context.Context, email string) (string, error) {
	return f.msg("forgot", email)
}

func (f *fakeAPI) ResetPassword(_ context.Context, token, _ string) (string, error) {
	return f.msg("reset", token)
}

func (f *fakeAPI) VerifyEmail(_ context.Context, token string) (string, error) {
	return f.msg("verify-email", token)
}

func (f *fakeAPI) ResendVerification(_ context.Context, email string) (string, error) {
	return f.msg("resend", email)
}

func (f *fakeAPI) msg(op, arg string) (string, error) {
	if f.message == nil {
		return "", errNotConfigured
	}
	return f.message(op, arg)
}

func (f *fakeAPI) GetProfile(ctx context.Context, token string) (*identity.User, error) {
	if f.getProfile == nil {
		return nil, errNotConfigured
	}
	return f.getProfile(ctx, token)
}

func (f *fakeAPI) UpdateProfile(_ context.Context, token string, u authapi.ProfileUpdate) (*identity.User, error) {
	if f.updateProfile == nil {
		return nil, errNotConfigured
	}
	return f.updateProfile(token, u)
}

func (f *fakeAPI) Enable2FA(_ context.Context, token string) (*authapi.TwoFactorSetup, error) {
	if f.enable2FA == nil {
		return nil, errNotConfigured
	}
	return f.enable2FA(token)
}

func (f *fakeAPI) Disable2FA(_ context.Context, token, code string) (string, error) {
	if f.disable2FA == nil {
		return "", errNotConfigured
	}
	return f.disable2FA(token, code)
}

func (f *fakeAPI) Verify2FASetup(_ context.Context, token, code string) (string, error) {
	if f.verify2FASetup == nil {
		return "", errNotConfigured
	}
	return f.verify2FASetup(token, code)
}

func testUser(id string, role identity.Role) *identity.User {
	return &identity.User{ID: id, Email: id + "@x.com", Role: role, Status: identity.StatusActive, EmailVerified: true}
}

func credentials(user *identity.User, token string) (*authapi.AuthResult, error) {
	return &authapi.AuthResult{User: user, AccessToken: token}, nil
}

func apiError(status int, msg string) error {
	return &authapi.APIError{StatusCode: status, Message: msg}
}
