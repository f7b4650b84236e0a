// Package storage provides the record storage abstraction shared by the API
// server (accounts, action tokens, server sessions) and the CLI (persisted
// client session).
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when no record exists in the namespace.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides Put, PutCAS and Delete within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage. Records are addressed
// by (namespace, recordType, recordID).
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(namespace string, fn func(tx BatchTx) error) error
}

// IsNotFound reports whether err means the record (or its namespace) is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNamespaceNotFound)
}
