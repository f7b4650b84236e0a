// Package authapi is the HTTP client for the recoverydesk authentication
// endpoints. It translates calls into JSON requests against /auth/* and
// /users/profile and normalizes the server's inconsistent response shapes.
//
// The client performs no retries; every failure is surfaced immediately.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/recoverydesk/identity"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "recoverydesk-client"
	maxErrorBody     = 64 << 10
)

// Client calls the authentication API. It is stateless with respect to the
// session: bearer tokens are passed per call.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Login submits credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authCall(ctx, "/auth/login", body)
}

// Verify2FA completes a login challenge.
func (c *Client) Verify2FA(ctx context.Context, tempToken, code string) (*AuthResult, error) {
	body := map[string]string{"tempToken": tempToken, "code": code}
	return c.authCall(ctx, "/auth/2fa/verify", body)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	return c.authCall(ctx, "/auth/register", req)
}

// Logout revokes the given access token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// ForgotPassword asks the server to mail a reset link. The server answers
// success whether or not the account exists.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	return c.messageCall(ctx, "/auth/forgot-password", "", map[string]string{"email": email})
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.messageCall(ctx, "/auth/reset-password", "", body)
}

// VerifyEmail confirms an email address using a verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	return c.messageCall(ctx, "/auth/verify-email", "", map[string]string{"token": token})
}

// ResendVerification asks the server to mail a fresh verification link.
func (c *Client) ResendVerification(ctx context.Context, email string) (string, error) {
	return c.messageCall(ctx, "/auth/resend-verification", "", map[string]string{"email": email})
}

// GetProfile fetches the caller's identity record.
func (c *Client) GetProfile(ctx context.Context, token string) (*identity.User, error) {
	var u identity.User
	if err := c.do(ctx, http.MethodGet, "/users/profile", token, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("profile without id: %w", ErrMalformedResponse)
	}
	return &u, nil
}

// UpdateProfile applies a partial update and returns the canonical record.
func (c *Client) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) (*identity.User, error) {
	var u identity.User
	if err := c.do(ctx, http.MethodPatch, "/users/profile", token, update, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("profile without id: %w", ErrMalformedResponse)
	}
	return &u, nil
}

// Enable2FA starts secondary-factor enrollment.
func (c *Client) Enable2FA(ctx context.Context, token string) (*TwoFactorSetup, error) {
	var setup TwoFactorSetup
	if err := c.do(ctx, http.MethodPost, "/auth/2fa/enable", token, nil, &setup); err != nil {
		return nil, err
	}
	if setup.Secret == "" {
		return nil, fmt.Errorf("2fa setup without secret: %w", ErrMalformedResponse)
	}
	return &setup, nil
}

// Disable2FA turns the secondary factor off.
func (c *Client) Disable2FA(ctx context.Context, token, code string) (string, error) {
	return c.messageCall(ctx, "/auth/2fa/disable", token, map[string]string{"code": code})
}

// Verify2FASetup confirms enrollment with a code from the authenticator.
func (c *Client) Verify2FASetup(ctx context.Context, token, code string) (string, error) {
	return c.messageCall(ctx, "/auth/2fa/verify-setup", token, map[string]string{"code": code})
}

func (c *Client) authCall(ctx context.Context, path string, body any) (*AuthResult, error) {
	var raw rawAuthResponse
	if err := c.do(ctx, http.MethodPost, path, "", body, &raw); err != nil {
		return nil, err
	}
	res, err := raw.normalize()
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return res, nil
}

func (c *Client) messageCall(ctx context.Context, path, token string, body any) (string, error) {
	var resp messageResponse
	err := c.do(ctx, http.MethodPost, path, token, body, &resp)
	if errors.Is(err, errEmptyBody) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// errEmptyBody is tolerated by endpoints whose success body is unused.
var errEmptyBody = fmt.Errorf("empty body: %w", ErrMalformedResponse)

// do performs one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(data, &eb)
		return newAPIError(resp.StatusCode, eb)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s %s: %w", method, path, errEmptyBody)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrMalformedResponse, err)
	}
	return nil
}
