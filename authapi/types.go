package authapi

import "github.com/jmcleod/recoverydesk/identity"

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

// ProfileUpdate is a partial profile change. Nil fields are left untouched
// by the server.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

// Empty reports whether u changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.Avatar == nil
}

// TwoFactorSetup is the provisioning payload returned when enabling 2FA.
// QRCode carries an otpauth:// URL suitable for rendering as a QR code.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	QRCode string `json:"qrCode"`
}

// AuthResult is the normalized answer of login, register and 2FA
// verification. Exactly one of the three shapes is populated:
//
//   - RequiresVerification with Email
//   - RequiresTwoFactor with TempToken
//   - User with AccessToken
type AuthResult struct {
	RequiresVerification bool
	Email                string
	RequiresTwoFactor    bool
	TempToken            string
	User                 *identity.User
	AccessToken          string
}

// Authenticated reports whether r carries full credentials.
func (r *AuthResult) Authenticated() bool {
	return r.User != nil && r.AccessToken != ""
}

// rawAuthResponse accepts every field spelling the server uses. Initial
// login answers accessToken; 2FA verification answers access_token.
type rawAuthResponse struct {
	RequiresVerification bool           `json:"requiresVerification"`
	Email                string         `json:"email"`
	RequiresTwoFactor    bool           `json:"requiresTwoFactor"`
	TempToken            string         `json:"tempToken"`
	User                 *identity.User `json:"user"`
	AccessToken          string         `json:"accessToken"`
	AccessTokenSnake     string         `json:"access_token"`
	Token                string         `json:"token"`
}

func (r *rawAuthResponse) normalize() (*AuthResult, error) {
	switch {
	case r.RequiresVerification:
		return &AuthResult{RequiresVerification: true, Email: r.Email}, nil
	case r.RequiresTwoFactor:
		if r.TempToken == "" {
			return nil, ErrMalformedResponse
		}
		return &AuthResult{RequiresTwoFactor: true, TempToken: r.TempToken}, nil
	}

	token := r.AccessToken
	if token == "" {
		token = r.AccessTokenSnake
	}
	if token == "" {
		token = r.Token
	}
	if r.User == nil || token == "" {
		return nil, ErrMalformedResponse
	}
	return &AuthResult{User: r.User, AccessToken: token}, nil
}

type messageResponse struct {
	Message string `json:"message"`
}
