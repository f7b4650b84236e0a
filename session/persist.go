package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/storage"
)

// StorageKey is the record under which the client session is persisted.
const StorageKey = "auth-storage"

const (
	persistNamespace  = "__client"
	persistRecordType = "STATE"
)

// Persisted is the durable subset of a Session. The 2FA challenge and the
// last error are never written, so a restart during a challenge forces a
// fresh login.
type Persisted struct {
	Token           string         `json:"token"`
	User            *identity.User `json:"user"`
	IsAuthenticated bool           `json:"isAuthenticated"`
}

func persistedFrom(s Session) *Persisted {
	return &Persisted{
		Token:           s.Token,
		User:            s.User.Clone(),
		IsAuthenticated: s.IsAuthenticated(),
	}
}

// Validate checks a rehydrated blob before it is trusted.
func (p *Persisted) Validate() error {
	if !p.IsAuthenticated {
		if p.Token != "" || p.User != nil {
			return errors.New("credentials present on an unauthenticated session")
		}
		return nil
	}
	switch {
	case p.Token == "":
		return errors.New("authenticated without token")
	case p.User == nil:
		return errors.New("authenticated without user")
	case p.User.ID == "":
		return errors.New("user without id")
	case !p.User.Role.Valid():
		return fmt.Errorf("user role %q: %w", p.User.Role, identity.ErrInvalidRole)
	}
	return nil
}

// Persister stores the durable session blob. Load returns (nil, nil) when
// nothing has been saved.
type Persister interface {
	Load() (*Persisted, error)
	Save(p *Persisted) error
}

// MemoryPersister keeps the blob in memory as JSON.
type MemoryPersister struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryPersister) Load() (*Persisted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	var p Persisted
	if err := json.Unmarshal(m.data, &p); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", StorageKey, err)
	}
	return &p, nil
}

func (m *MemoryPersister) Save(p *Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Raw returns the stored JSON.
func (m *MemoryPersister) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// SetRaw replaces the stored JSON, for seeding tests and migrations.
func (m *MemoryPersister) SetRaw(data []byte) {
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
}

// RepositoryPersister stores the blob in a storage.Repository. When a
// 32-byte key is configured the record is sealed with AES-256-GCM.
type RepositoryPersister struct {
	repo storage.Repository
	key  []byte
}

// NewRepositoryPersister returns a persister over repo. key may be nil.
func NewRepositoryPersister(repo storage.Repository, key []byte) (*RepositoryPersister, error) {
	if key != nil && len(key) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(key))
	}
	return &RepositoryPersister{repo: repo, key: key}, nil
}

func (r *RepositoryPersister) aad() []byte {
	return []byte(persistNamespace + "|" + persistRecordType + "|" + StorageKey)
}

func (r *RepositoryPersister) Load() (*Persisted, error) {
	env, err := r.repo.Get(persistNamespace, persistRecordType, StorageKey)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", StorageKey, err)
	}

	var data []byte
	if r.key != nil {
		data, err = storage.OpenRecord(r.key, env, r.aad())
	} else {
		data, err = storage.OpenRaw(env)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", StorageKey, err)
	}

	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", StorageKey, err)
	}
	return &p, nil
}

func (r *RepositoryPersister) Save(p *Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	env := storage.RawRecord(data)
	if r.key != nil {
		env, err = storage.SealRecord(r.key, data, r.aad())
		if err != nil {
			return fmt.Errorf("sealing %s: %w", StorageKey, err)
		}
	}
	return r.repo.Put(persistNamespace, persistRecordType, StorageKey, env)
}
