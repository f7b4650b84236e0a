// Package identity defines the principal types shared by the client and the
// server: the closed Role enumeration and the User record.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles. Roles have no hierarchy; access is
// granted by explicit allow-lists.
type Role string

const (
	RoleUser         Role = "user"
	RoleAdmin        Role = "admin"
	RoleSupportAgent Role = "support_agent"
)

// ErrInvalidRole is returned by ParseRole for values outside the enumeration.
var ErrInvalidRole = errors.New("invalid role")

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleSupportAgent}
}

// ParseRole converts s into a Role. Matching is exact.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidRole)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSupportAgent:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive              Status = "active"
	StatusPendingVerification Status = "pending_verification"
	StatusSuspended           Status = "suspended"
)

// User is the server-issued description of a principal. Clients hold a
// cached copy that is only refreshed by an explicit profile fetch.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Role             Role      `json:"role"`
	Status           Status    `json:"status"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	EmailVerified    bool      `json:"emailVerified"`
	Avatar           string    `json:"avatar,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DisplayName returns "First Last", falling back to the email address when
// neither name is set.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Clone returns a copy of u. A nil receiver yields nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
