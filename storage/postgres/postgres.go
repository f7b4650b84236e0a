// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (namespace, record_type,
// record_id) that mirrors the key space of the BBolt and in-memory backends.
// Envelope fields are stored as individual columns so nonce and ciphertext
// use native BYTEA storage. The schema is managed by goose migrations
// embedded in the migrations package.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/recoverydesk/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
// The caller is responsible for having run Migrate.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN connects to PostgreSQL, applies pending migrations
// and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const upsertSQL = `INSERT INTO records (namespace, record_type, record_id, ver, scheme, nonce, ciphertext, version, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	 ON CONFLICT (namespace, record_type, record_id)
	 DO UPDATE SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, version = $8, updated_at = now()`

func (s *Store) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, upsertSQL,
		namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (s *Store) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	ctx := context.Background()
	var env storage.Envelope
	err := s.pool.QueryRow(ctx,
		`SELECT ver, scheme, nonce, ciphertext, version
		 FROM records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID).Scan(
		&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(ctx, s.pool, namespace, recordType, recordID)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) List(namespace, recordType string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT record_id FROM records
		 WHERE namespace = $1 AND record_type = $2 AND record_id <> ''
		 ORDER BY record_id`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(namespace, recordType, recordID string) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(ctx, s.pool, namespace, recordType, recordID)
	}
	return nil
}

func (s *Store) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.Batch(namespace, func(tx storage.BatchTx) error {
		return tx.PutCAS(recordType, recordID, expectedVersion, envelope)
	})
}

// Batch runs fn inside a single PostgreSQL transaction. The transaction is
// rolled back when fn returns an error.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	ctx := context.Background()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgBatchTx{ctx: ctx, tx: tx, namespace: namespace})
	})
}

type pgBatchTx struct {
	ctx       context.Context
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	_, err := btx.tx.Exec(btx.ctx, upsertSQL,
		btx.namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

// PutCAS locks the current row (if any) so concurrent writers serialize on it.
func (btx *pgBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	var current uint64
	err := btx.tx.QueryRow(btx.ctx,
		`SELECT version FROM records
		 WHERE namespace = $1 AND record_type = $2 AND record_id = $3
		 FOR UPDATE`,
		btx.namespace, recordType, recordID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		tag, err := btx.tx.Exec(btx.ctx,
			`INSERT INTO records (namespace, record_type, record_id, ver, scheme, nonce, ciphertext, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT DO NOTHING`,
			btx.namespace, recordType, recordID,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Lost a race with a concurrent create.
			return storage.ErrCASFailed
		}
		return nil
	case err != nil:
		return err
	case expectedVersion == 0 || current != expectedVersion:
		return storage.ErrCASFailed
	}
	return btx.Put(recordType, recordID, envelope)
}

func (btx *pgBatchTx) Delete(recordType, recordID string) error {
	tag, err := btx.tx.Exec(btx.ctx,
		`DELETE FROM records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		btx.namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a missing namespace from a missing record,
// matching the other backends.
func notFoundError(ctx context.Context, q querier, namespace, recordType, recordID string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE namespace = $1)`,
		namespace).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
}
