package api

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/storage/memory"
)

var testWrappingKey = bytes.Repeat([]byte{0x42}, 32)

func liveSession(userID string) AuthSession {
	return AuthSession{
		UserID:         userID,
		Role:           identity.RoleUser,
		ExpiresAt:      time.Now().Add(time.Hour),
		LastAccessedAt: time.Now(),
	}
}

// sessionStoreTests runs the common suite against any SessionStore implementation.
func sessionStoreTests(t *testing.T, store SessionStore) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		s := liveSession("u-1")
		s.Role = identity.RoleAdmin
		store.Put("jti-1", s)
		got, ok := store.Get("jti-1")
		require.True(t, ok)
		assert.Equal(t, "u-1", got.UserID)
		assert.Equal(t, identity.RoleAdmin, got.Role)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, ok := store.Get("no-such-session")
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		store.Put("jti-del", liveSession("u-del"))
		store.Delete("jti-del")
		_, ok := store.Get("jti-del")
		assert.False(t, ok)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		store.Delete("never-existed")
	})

	t.Run("Overwrite", func(t *testing.T) {
		store.Put("jti-ow", liveSession("u-v1"))
		store.Put("jti-ow", liveSession("u-v2"))
		got, ok := store.Get("jti-ow")
		require.True(t, ok)
		assert.Equal(t, "u-v2", got.UserID)
	})

	t.Run("ExpiredSession", func(t *testing.T) {
		s := liveSession("u-exp")
		s.ExpiresAt = time.Now().Add(-time.Second)
		store.Put("jti-exp", s)
		_, ok := store.Get("jti-exp")
		assert.False(t, ok)
	})

	t.Run("RevokeUser", func(t *testing.T) {
		store.Put("jti-a1", liveSession("u-revoke"))
		store.Put("jti-a2", liveSession("u-revoke"))
		store.Put("jti-b", liveSession("u-keep"))

		store.RevokeUser("u-revoke")

		_, ok := store.Get("jti-a1")
		assert.False(t, ok)
		_, ok = store.Get("jti-a2")
		assert.False(t, ok)
		_, ok = store.Get("jti-b")
		assert.True(t, ok, "other users' sessions survive")
	})
}

func TestMemorySessionStore(t *testing.T) {
	sessionStoreTests(t, NewMemorySessionStore(30*time.Minute))

	t.Run("IdleTimeout", func(t *testing.T) {
		s := NewMemorySessionStore(100 * time.Millisecond)
		idle := liveSession("u-idle")
		idle.LastAccessedAt = time.Now().Add(-200 * time.Millisecond)
		s.Put("jti-idle", idle)
		_, ok := s.Get("jti-idle")
		assert.False(t, ok)
	})

	t.Run("IdleTimeoutDisabled", func(t *testing.T) {
		s := NewMemorySessionStore(0)
		idle := liveSession("u-no-idle")
		idle.LastAccessedAt = time.Now().Add(-24 * time.Hour)
		s.Put("jti-no-idle", idle)
		_, ok := s.Get("jti-no-idle")
		assert.True(t, ok)
	})
}

func TestPersistentSessionStore(t *testing.T) {
	store, err := NewPersistentSessionStore(memory.NewRepository(), 30*time.Minute, testWrappingKey)
	require.NoError(t, err)
	defer store.Close()

	sessionStoreTests(t, store)

	t.Run("RejectsBadWrappingKey", func(t *testing.T) {
		_, err := NewPersistentSessionStore(memory.NewRepository(), 0, []byte("short"))
		assert.Error(t, err)
	})

	t.Run("SealedAtRest", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewPersistentSessionStore(repo, 0, testWrappingKey)
		require.NoError(t, err)
		defer s.Close()

		s.Put("jti-sealed", liveSession("u-sealed"))
		env, err := repo.Get(sessionNamespace, sessionRecordType, "jti-sealed")
		require.NoError(t, err)
		assert.Equal(t, "aes256gcm", env.Scheme)
		assert.NotContains(t, string(env.Ciphertext), "u-sealed")
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		repo := memory.NewRepository()
		s1, err := NewPersistentSessionStore(repo, 30*time.Minute, testWrappingKey)
		require.NoError(t, err)
		s1.Put("jti-persist", liveSession("u-persist"))
		s1.Close()

		s2, err := NewPersistentSessionStore(repo, 30*time.Minute, testWrappingKey)
		require.NoError(t, err)
		defer s2.Close()

		got, ok := s2.Get("jti-persist")
		require.True(t, ok, "expected session to survive store reopen")
		assert.Equal(t, "u-persist", got.UserID)
	})

	t.Run("WrappingKeyChangeDropsSessions", func(t *testing.T) {
		repo := memory.NewRepository()
		s1, err := NewPersistentSessionStore(repo, 0, testWrappingKey)
		require.NoError(t, err)
		s1.Put("jti-rotated", liveSession("u-rotated"))
		s1.Close()

		s2, err := NewPersistentSessionStore(repo, 0, bytes.Repeat([]byte{0x24}, 32))
		require.NoError(t, err)
		defer s2.Close()

		_, ok := s2.Get("jti-rotated")
		assert.False(t, ok)
	})

	t.Run("SweepExpired", func(t *testing.T) {
		repo := memory.NewRepository()
		s, err := NewPersistentSessionStore(repo, 30*time.Minute, testWrappingKey)
		require.NoError(t, err)
		defer s.Close()

		expired := liveSession("u-sweep")
		expired.ExpiresAt = time.Now().Add(-time.Hour)
		s.Put("jti-sweep", expired)
		s.Put("jti-live", liveSession("u-live"))

		s.sweepExpired()

		_, err = repo.Get(sessionNamespace, sessionRecordType, "jti-sweep")
		assert.Error(t, err, "expected expired session to be removed by sweep")
		_, err = repo.Get(sessionNamespace, sessionRecordType, "jti-live")
		assert.NoError(t, err)
	})
}
