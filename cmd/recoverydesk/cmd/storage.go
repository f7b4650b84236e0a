package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/recoverydesk/storage"
	bboltstorage "github.com/jmcleod/recoverydesk/storage/bbolt"
	"github.com/jmcleod/recoverydesk/storage/memory"
	pgstorage "github.com/jmcleod/recoverydesk/storage/postgres"
)

// openRepository opens the server storage backend named by server.storage.
// The returned close function is never nil.
func openRepository(ctx context.Context) (storage.Repository, func() error, error) {
	switch backend := cfg.GetString(keyStorage); backend {
	case "bbolt":
		dir := expandHome(cfg.GetString(keyDataDir))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dir, "recoverydesk.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, repo.Close, nil
	case "postgres":
		dsn := cfg.GetString(keyPostgresDSN)
		if dsn == "" {
			return nil, nil, fmt.Errorf("%s is required for the postgres backend", keyPostgresDSN)
		}
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, repo.Close, nil
	case "memory":
		return memory.NewRepository(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// serverSecret returns the configured token secret. api.New enforces its
// minimum length.
func serverSecret() ([]byte, error) {
	secret := cfg.GetString(keyJWTSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s is required (set %s_SERVER_JWT_SECRET)", keyJWTSecret, envPrefix)
	}
	return []byte(secret), nil
}
