package api

import "github.com/jmcleod/recoverydesk/identity"

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse answers login and register. Exactly one shape is populated:
// a verification notice, a 2FA challenge, or a user with an access token.
type AuthResponse struct {
	RequiresVerification bool           `json:"requiresVerification,omitempty"`
	Email                string         `json:"email,omitempty"`
	RequiresTwoFactor    bool           `json:"requiresTwoFactor,omitempty"`
	TempToken            string         `json:"tempToken,omitempty"`
	User                 *identity.User `json:"user,omitempty"`
	AccessToken          string         `json:"accessToken,omitempty"`
}

// VerifyTwoFactorRequest is the JSON body for POST /auth/2fa/verify.
type VerifyTwoFactorRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

// VerifyTwoFactorResponse is returned from POST /auth/2fa/verify.
type VerifyTwoFactorResponse struct {
	User        *identity.User `json:"user"`
	AccessToken string         `json:"access_token"`
}

// EmailRequest is the JSON body for forgot-password and resend-verification.
type EmailRequest struct {
	Email string `json:"email"`
}

// TokenRequest is the JSON body for POST /auth/verify-email.
type TokenRequest struct {
	Token string `json:"token"`
}

// ResetPasswordRequest is the JSON body for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// CodeRequest carries a one-time code for 2FA management.
type CodeRequest struct {
	Code string `json:"code"`
}

// TwoFactorSetupResponse is returned from POST /auth/2fa/enable.
type TwoFactorSetupResponse struct {
	Secret string `json:"secret"`
	QRCode string `json:"qrCode"`
}

// UpdateProfileRequest is the JSON body for PATCH /users/profile. Absent
// fields are left unchanged.
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
}

// MessageResponse is the body of informational answers.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Message string `json:"message"`
}
