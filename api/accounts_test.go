package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/storage"
)

func TestAccountRoundTripIsSealed(t *testing.T) {
	a := newTestAPI(t, newFakeClock())
	u, err := a.CreateUser(t.Context(), NewUser{
		Email: "Ada@Example.com", Password: "correct horse battery",
		FirstName: "Ada", LastName: "Lovelace", Role: identity.RoleUser,
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, identity.StatusActive, u.Status)

	env, err := a.repo.Get(accountNamespace, accountRecordType, u.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(env.Ciphertext), "ada@example.com")

	rec, err := a.loadAccountByEmail("ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.ID)
	assert.Equal(t, uint64(1), rec.version)
}

func TestSaveAccountDetectsConcurrentChange(t *testing.T) {
	a := newTestAPI(t, newFakeClock())
	u, err := a.CreateUser(t.Context(), NewUser{
		Email: "ada@example.com", Password: "correct horse battery",
		FirstName: "Ada", LastName: "Lovelace", Role: identity.RoleUser,
	})
	require.NoError(t, err)

	first, err := a.loadAccount(u.ID)
	require.NoError(t, err)
	second, err := a.loadAccount(u.ID)
	require.NoError(t, err)

	first.FirstName = "Augusta"
	require.NoError(t, a.saveAccount(first))
	second.LastName = "King"
	assert.ErrorIs(t, a.saveAccount(second), storage.ErrCASFailed)

	got, err := a.loadAccount(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Augusta", got.FirstName)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.Equal(t, uint64(2), got.version)
}

func TestConcurrentRegistrationOneWins(t *testing.T) {
	a := newTestAPI(t, newFakeClock())
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = a.CreateUser(t.Context(), NewUser{
				Email: "ada@example.com", Password: "correct horse battery",
				FirstName: "Ada", LastName: "Lovelace", Role: identity.RoleUser,
			})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrEmailTaken)
	}
	assert.Equal(t, 1, wins)

	ids, err := a.repo.List(accountNamespace, accountRecordType)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "losers leave no orphaned account")
}

func TestActionTokenSingleUse(t *testing.T) {
	clock := newFakeClock()
	a := newTestAPI(t, clock)
	rec := &accountRecord{ID: "user-1", Email: "ada@example.com"}

	raw, err := a.issueActionToken(actionResetPassword, rec, resetTTL)
	require.NoError(t, err)

	_, err = a.consumeActionToken(actionVerifyEmail, raw)
	assert.ErrorIs(t, err, ErrInvalidActionLink, "kinds are not interchangeable")

	tok, err := a.consumeActionToken(actionResetPassword, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UserID)
	assert.Equal(t, "ada@example.com", tok.Email)

	_, err = a.consumeActionToken(actionResetPassword, raw)
	assert.ErrorIs(t, err, ErrInvalidActionLink)

	_, err = a.consumeActionToken(actionResetPassword, "")
	assert.ErrorIs(t, err, ErrInvalidActionLink)

	expired, err := a.issueActionToken(actionResetPassword, rec, resetTTL)
	require.NoError(t, err)
	clock.Advance(resetTTL + time.Minute)
	_, err = a.consumeActionToken(actionResetPassword, expired)
	assert.ErrorIs(t, err, ErrInvalidActionLink)
}

func TestValidation(t *testing.T) {
	_, err := validateEmail("  Ada@Example.COM ")
	require.NoError(t, err)
	for _, bad := range []string{"", "ada", "Ada <ada@example.com>", "ada@"} {
		_, err := validateEmail(bad)
		assert.Error(t, err, bad)
	}

	assert.Error(t, validatePassword("1234567"))
	assert.NoError(t, validatePassword("12345678"))
	assert.Error(t, validatePassword(string(make([]byte, maxPasswordLen+1))))

	name, err := validateName("first name", "  Ada ")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
}

func TestApplyProfileUpdate(t *testing.T) {
	rec := &accountRecord{FirstName: "Ada", LastName: "Lovelace", Avatar: "https://x/a.png"}
	ptr := func(s string) *string { return &s }

	require.NoError(t, applyProfileUpdate(rec, UpdateProfileRequest{LastName: ptr(" King "), Avatar: ptr("")}))
	assert.Equal(t, "Ada", rec.FirstName)
	assert.Equal(t, "King", rec.LastName)
	assert.Empty(t, rec.Avatar)

	err := applyProfileUpdate(rec, UpdateProfileRequest{FirstName: ptr("Augusta"), Avatar: ptr("ftp://x/a.png")})
	assert.Error(t, err)
	assert.Equal(t, "Ada", rec.FirstName, "nothing changes on error")

	for _, bad := range []string{"ftp://x/a.png", "https://", "not a url", "/relative.png"} {
		_, err := validateAvatar(bad)
		assert.Error(t, err, bad)
	}
}
