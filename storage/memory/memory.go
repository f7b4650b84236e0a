// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/recoverydesk/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func cloneEnvelope(env *storage.Envelope) *storage.Envelope {
	if env == nil {
		return nil
	}
	return &storage.Envelope{
		Ver:        env.Ver,
		Scheme:     env.Scheme,
		Nonce:      append([]byte(nil), env.Nonce...),
		Ciphertext: append([]byte(nil), env.Ciphertext...),
		Version:    env.Version,
	}
}

func (r *Repository) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(namespace, recordType, recordID, envelope)
}

func (r *Repository) putLocked(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	if _, ok := r.data[namespace]; !ok {
		r.data[namespace] = make(map[string]*storage.Envelope)
	}
	r.data[namespace][makeKey(recordType, recordID)] = cloneEnvelope(envelope)
	return nil
}

func (r *Repository) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(namespace, recordType, recordID)
}

func (r *Repository) getLocked(namespace, recordType, recordID string) (*storage.Envelope, error) {
	nsData, ok := r.data[namespace]
	if !ok {
		return nil, fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	env, ok := nsData[makeKey(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return cloneEnvelope(env), nil
}

func (r *Repository) List(namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(namespace, recordType, recordID)
}

func (r *Repository) deleteLocked(namespace, recordType, recordID string) error {
	nsData, ok := r.data[namespace]
	if !ok {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	k := makeKey(recordType, recordID)
	if _, ok := nsData[k]; !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	delete(nsData, k)
	return nil
}

func (r *Repository) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(namespace, recordType, recordID, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(namespace, recordType, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(namespace, recordType, recordID, envelope)
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(namespace, recordType, recordID, envelope)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotNamespace(namespace)

	tx := &memoryBatchTx{repo: r, namespace: namespace}
	if err := fn(tx); err != nil {
		r.restoreNamespace(namespace, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotNamespace(namespace string) map[string]*storage.Envelope {
	original, ok := r.data[namespace]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = cloneEnvelope(v)
	}
	return cp
}

func (r *Repository) restoreNamespace(namespace string, snapshot map[string]*storage.Envelope) {
	if snapshot == nil {
		delete(r.data, namespace)
	} else {
		r.data[namespace] = snapshot
	}
}

type memoryBatchTx struct {
	repo      *Repository
	namespace string
}

func (tx *memoryBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return tx.repo.putLocked(tx.namespace, recordType, recordID, envelope)
}

func (tx *memoryBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(tx.namespace, recordType, recordID, expectedVersion, envelope)
}

func (tx *memoryBatchTx) Delete(recordType, recordID string) error {
	return tx.repo.deleteLocked(tx.namespace, recordType, recordID)
}
