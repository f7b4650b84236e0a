package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	icrypto "github.com/jmcleod/recoverydesk/internal/crypto"
	"github.com/jmcleod/recoverydesk/internal/util"
	"github.com/jmcleod/recoverydesk/storage"
)

const (
	sessionNamespace      = "__sessions"
	sessionRecordType     = "SESSION"
	sessionKeyType        = "SESSION_KEY"
	sessionKeyID          = "current"
	sessionRecordVer      = 1
	sessionKeyWrappingAAD = "recoverydesk:session_master_key:v1"
	cleanupInterval       = 5 * time.Minute
)

// PersistentSessionStore stores sessions in a storage.Repository, encrypted
// at rest using AES-256-GCM. Sessions survive server restarts.
//
// The session encryption key is itself sealed with a wrapping key before
// being stored, so a repository compromise alone cannot recover session data.
type PersistentSessionStore struct {
	repo        storage.Repository
	key         []byte
	wrappingKey []byte
	idleTimeout time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore creates a session store backed by repo. The
// 32-byte wrappingKey seals the session encryption key at rest and is never
// stored in the repository; the server derives it from its secret.
// idleTimeout of 0 disables idle timeout checking.
func NewPersistentSessionStore(repo storage.Repository, idleTimeout time.Duration, wrappingKey []byte) (*PersistentSessionStore, error) {
	if len(wrappingKey) != 32 {
		return nil, fmt.Errorf("wrapping key must be exactly 32 bytes, got %d", len(wrappingKey))
	}
	wk := bytes.Clone(wrappingKey)

	key, err := loadOrCreateSessionKey(repo, wk)
	if err != nil {
		util.WipeBytes(wk)
		return nil, err
	}
	s := &PersistentSessionStore{
		repo:        repo,
		key:         key,
		wrappingKey: wk,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine and wipes key material.
func (s *PersistentSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
		util.WipeBytes(s.wrappingKey)
	})
}

func (s *PersistentSessionStore) Get(id string) (AuthSession, bool) {
	env, err := s.repo.Get(sessionNamespace, sessionRecordType, id)
	if err != nil {
		return AuthSession{}, false
	}
	session, err := s.open(id, env)
	if err != nil {
		return AuthSession{}, false
	}
	if session.expired(time.Now(), s.idleTimeout) {
		s.Delete(id)
		return AuthSession{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(id string, session AuthSession) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	env, err := storage.SealRecord(s.key, data, sessionAAD(id))
	if err != nil {
		slog.Warn("session store: seal failed", "error", err)
		return
	}
	if err := s.repo.Put(sessionNamespace, sessionRecordType, id, env); err != nil {
		slog.Warn("session store: put failed", "error", err)
	}
}

func (s *PersistentSessionStore) Delete(id string) {
	_ = s.repo.Delete(sessionNamespace, sessionRecordType, id)
}

// RevokeUser deletes every stored session owned by userID.
func (s *PersistentSessionStore) RevokeUser(userID string) {
	s.each(func(id string, session AuthSession, ok bool) {
		if ok && session.UserID == userID {
			s.Delete(id)
		}
	})
}

func (s *PersistentSessionStore) open(id string, env *storage.Envelope) (AuthSession, error) {
	data, err := storage.OpenRecord(s.key, env, sessionAAD(id))
	if err != nil {
		return AuthSession{}, err
	}
	defer util.WipeBytes(data)
	var session AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

// each visits every stored session. ok is false for records that cannot be
// opened or decoded.
func (s *PersistentSessionStore) each(fn func(id string, session AuthSession, ok bool)) {
	ids, err := s.repo.List(sessionNamespace, sessionRecordType)
	if err != nil {
		return
	}
	for _, id := range ids {
		env, err := s.repo.Get(sessionNamespace, sessionRecordType, id)
		if err != nil {
			continue
		}
		session, err := s.open(id, env)
		fn(id, session, err == nil)
	}
}

// cleanupLoop periodically removes expired sessions from storage.
func (s *PersistentSessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *PersistentSessionStore) sweepExpired() {
	now := time.Now()
	s.each(func(id string, session AuthSession, ok bool) {
		if !ok || session.expired(now, s.idleTimeout) {
			s.Delete(id)
		}
	})
}

func sessionAAD(id string) []byte {
	return icrypto.AADRecord(sessionNamespace, sessionRecordType, id, sessionRecordVer)
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the wrapping key
// has changed, a new 32-byte key is generated, sealed and persisted. In the
// latter case existing sessions become unreadable.
func loadOrCreateSessionKey(repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	env, err := repo.Get(sessionNamespace, sessionKeyType, sessionKeyID)
	switch {
	case err == nil:
		key, err := storage.OpenRecord(wrappingKey, env, aad)
		if err == nil && len(key) == 32 {
			return key, nil
		}
		slog.Warn("session store: stored session key unreadable; generating a new one")
	case !storage.IsNotFound(err):
		return nil, err
	}

	key, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(sessionNamespace, sessionKeyType, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, err
	}
	return key, nil
}
