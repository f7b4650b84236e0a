// Package bbolt provides a BBolt-backed storage repository.
//
// Each namespace maps to a top-level bucket. Records within a namespace are
// keyed "TYPE:ID", so bbolt's byte ordering keeps List results sorted.
package bbolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/recoverydesk/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
// A nil options value opens the file with a one second lock timeout so a
// second process holding the file fails fast instead of hanging.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(recordType, recordID string) []byte {
	return []byte(recordType + ":" + recordID)
}

func notFound(recordType, recordID string) error {
	return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
}

func encode(envelope *storage.Envelope) ([]byte, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

func (s *Store) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return (&boltBatchTx{bucket: b}).Put(recordType, recordID, envelope)
	})
}

func (s *Store) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		data := b.Get(recordKey(recordType, recordID))
		if data == nil {
			return notFound(recordType, recordID)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Delete(namespace, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		return (&boltBatchTx{bucket: b}).Delete(recordType, recordID)
	})
}

// List returns record IDs of the given type in key order. A missing
// namespace yields an empty list.
func (s *Store) List(namespace, recordType string) ([]string, error) {
	var ids []string
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if id := string(k[len(prefix):]); id != "" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

func (s *Store) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return (&boltBatchTx{bucket: b}).PutCAS(recordType, recordID, expectedVersion, envelope)
	})
}

// Batch runs fn inside a single read-write transaction; any error rolls back
// every write fn made.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	data, err := encode(envelope)
	if err != nil {
		return err
	}
	return tx.bucket.Put(recordKey(recordType, recordID), data)
}

func (tx *boltBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing := tx.bucket.Get(recordKey(recordType, recordID))
	switch {
	case existing == nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case existing != nil && expectedVersion == 0:
		return storage.ErrCASFailed
	case existing != nil:
		var cur storage.Envelope
		if err := json.Unmarshal(existing, &cur); err != nil {
			return fmt.Errorf("decoding envelope: %w", err)
		}
		if cur.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}
	return tx.Put(recordType, recordID, envelope)
}

func (tx *boltBatchTx) Delete(recordType, recordID string) error {
	key := recordKey(recordType, recordID)
	if tx.bucket.Get(key) == nil {
		return notFound(recordType, recordID)
	}
	return tx.bucket.Delete(key)
}
