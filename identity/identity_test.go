package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles() {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	for _, bad := range []string{"", "Admin", "superuser", "support-agent"} {
		_, err := ParseRole(bad)
		assert.ErrorIs(t, err, ErrInvalidRole, bad)
	}
}

func TestUserDisplayName(t *testing.T) {
	u := &User{Email: "u@x.com"}
	assert.Equal(t, "u@x.com", u.DisplayName())

	u.FirstName = "Ada"
	assert.Equal(t, "Ada", u.DisplayName())

	u.LastName = "Lovelace"
	assert.Equal(t, "Ada Lovelace", u.DisplayName())
}

func TestUserClone(t *testing.T) {
	var nilUser *User
	assert.Nil(t, nilUser.Clone())

	u := &User{ID: "1", Role: RoleAdmin}
	cp := u.Clone()
	cp.Role = RoleUser
	assert.Equal(t, RoleAdmin, u.Role)
}

func TestUserJSONFieldNames(t *testing.T) {
	u := User{
		ID:               "u1",
		Email:            "u@x.com",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		Role:             RoleSupportAgent,
		Status:           StatusActive,
		TwoFactorEnabled: true,
		EmailVerified:    true,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(u)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"id", "email", "firstName", "lastName", "role", "status", "twoFactorEnabled", "emailVerified", "createdAt"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "avatar")
	assert.NotContains(t, m, "phone")
	assert.Equal(t, "support_agent", m["role"])
}
