package api

import (
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu          sync.RWMutex
	data        map[string]AuthSession
	idleTimeout time.Duration
	now         func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
// idleTimeout of 0 disables idle timeout checking.
func NewMemorySessionStore(idleTimeout time.Duration) *MemorySessionStore {
	return newMemorySessionStore(idleTimeout, time.Now)
}

func newMemorySessionStore(idleTimeout time.Duration, now func() time.Time) *MemorySessionStore {
	return &MemorySessionStore{
		data:        make(map[string]AuthSession),
		idleTimeout: idleTimeout,
		now:         now,
	}
}

func (s *MemorySessionStore) Get(id string) (AuthSession, bool) {
	s.mu.RLock()
	session, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return AuthSession{}, false
	}
	if session.expired(s.now(), s.idleTimeout) {
		s.Delete(id)
		return AuthSession{}, false
	}
	return session, true
}

func (s *MemorySessionStore) Put(id string, session AuthSession) {
	s.mu.Lock()
	s.data[id] = session
	s.mu.Unlock()
}

func (s *MemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *MemorySessionStore) RevokeUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.data {
		if session.UserID == userID {
			delete(s.data, id)
		}
	}
}
