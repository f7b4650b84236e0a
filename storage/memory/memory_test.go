package memory

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/jmcleod/recoverydesk/storage"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewRepository()
	namespace := "__accounts"
	recordType := "USER"
	recordID := "id1"
	env := &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte("ciphertext"),
		Version:    1,
	}

	t.Run("PutAndGet", func(t *testing.T) {
		err := repo.Put(namespace, recordType, recordID, env)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(namespace, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) || got.Version != env.Version {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		// Test isolation (cloning)
		got.Nonce[0] = 'X'
		got2, _ := repo.Get(namespace, recordType, recordID)
		if got2.Nonce[0] == 'X' {
			t.Error("Memory repository should return clones of envelopes")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("nonexistent", recordType, recordID)
		if !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("Get with nonexistent namespace: got %v", err)
		}

		_, err = repo.Get(namespace, recordType, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get with nonexistent record: got %v", err)
		}
		if !storage.IsNotFound(err) {
			t.Error("IsNotFound should match ErrNotFound")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo.Put(namespace, recordType, "gone", env)
		if err := repo.Delete(namespace, recordType, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(namespace, recordType, "gone"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(namespace, recordType, "gone"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(namespace, "USER", "id2", env)
		repo.Put(namespace, "EMAIL", "id1", env)

		ids, err := repo.List(namespace, "USER")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "id1" || ids[1] != "id2" {
			t.Errorf("Expected [id1 id2], got %v", ids)
		}

		ids, _ = repo.List("nonexistent", "USER")
		if len(ids) != 0 {
			t.Errorf("Expected 0 IDs for nonexistent namespace, got %d", len(ids))
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := NewRepository()
		env1 := &storage.Envelope{Version: 1}
		env2 := &storage.Envelope{Version: 2}

		// Create-only (expectedVersion = 0)
		err := repo.PutCAS(namespace, recordType, recordID, 0, env1)
		if err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}

		// Version mismatch on create
		err = repo.PutCAS(namespace, "other", "id", 1, env1)
		if err != storage.ErrCASFailed {
			t.Errorf("Expected ErrCASFailed, got %v", err)
		}

		// Version match update
		err = repo.PutCAS(namespace, recordType, recordID, 1, env2)
		if err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}

		// Version mismatch update
		err = repo.PutCAS(namespace, recordType, recordID, 1, env1)
		if err != storage.ErrCASFailed {
			t.Errorf("Expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		repo := NewRepository()

		// Successful batch
		err := repo.Batch(namespace, func(tx storage.BatchTx) error {
			if err := tx.Put("type", "id1", env); err != nil {
				return err
			}
			return tx.PutCAS("type", "id2", 0, env)
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}

		if _, err := repo.Get(namespace, "type", "id1"); err != nil {
			t.Error("Record id1 should exist after batch")
		}

		// Failing batch (rollback)
		err = repo.Batch(namespace, func(tx storage.BatchTx) error {
			tx.Put("type", "id3", env)
			return fmt.Errorf("simulated error")
		})
		if err == nil {
			t.Error("Expected error from Batch, got nil")
		}

		if _, err := repo.Get(namespace, "type", "id3"); err == nil {
			t.Error("Record id3 should NOT exist after failed batch")
		}

		// Rollback with pre-existing data
		err = repo.Batch(namespace, func(tx storage.BatchTx) error {
			tx.Put("type", "id1", &storage.Envelope{Ver: 2})
			return fmt.Errorf("simulated error")
		})
		got, _ := repo.Get(namespace, "type", "id1")
		if got.Ver != 1 {
			t.Errorf("Expected Ver 1 after rollback, got %d", got.Ver)
		}
	})
}
