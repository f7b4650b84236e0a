package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmcleod/recoverydesk/authapi"
	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/internal/util"
	"github.com/jmcleod/recoverydesk/session"
	bboltstorage "github.com/jmcleod/recoverydesk/storage/bbolt"
)

const (
	clientDBName  = "client.db"
	clientKeyName = "session.key"
)

// client is a restored session store backed by the state directory.
type client struct {
	store *session.Store
	close func() error
}

func openClient() (*client, error) {
	dir := expandHome(cfg.GetString(keyStateDir))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, clientKeyName))
	if err != nil {
		return nil, err
	}
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dir, clientDBName), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open client state: %w", err)
	}
	persister, err := session.NewRepositoryPersister(repo, key)
	if err != nil {
		repo.Close()
		return nil, err
	}

	apiClient, err := authapi.New(cfg.GetString(keyServerURL), authapi.WithUserAgent("recoverydesk/"+Version))
	if err != nil {
		repo.Close()
		return nil, err
	}

	store := session.New(apiClient,
		session.WithPersister(persister),
		session.WithLogger(slog.Default()),
	)
	if err := store.Restore(); err != nil && !errors.Is(err, session.ErrInvalidPersistedState) {
		repo.Close()
		return nil, err
	}
	return &client{store: store, close: repo.Close}, nil
}

// loadOrCreateKey reads the hex encoded session sealing key at path,
// creating it on first use.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := util.HexDecode(strings.TrimSpace(string(data)))
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("invalid session key in %s", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(util.HexEncode(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write session key: %w", err)
	}
	return key, nil
}

func printUser(w io.Writer, u *identity.User) {
	fmt.Fprintf(w, "%s <%s>\n", u.DisplayName(), u.Email)
	fmt.Fprintf(w, "  id:       %s\n", u.ID)
	fmt.Fprintf(w, "  role:     %s\n", u.Role)
	fmt.Fprintf(w, "  status:   %s\n", u.Status)
	fmt.Fprintf(w, "  verified: %t\n", u.EmailVerified)
	fmt.Fprintf(w, "  2fa:      %t\n", u.TwoFactorEnabled)
	if u.Phone != "" {
		fmt.Fprintf(w, "  phone:    %s\n", u.Phone)
	}
}

// describe turns a store error into the text shown to the user.
func describe(err error, fallback string) error {
	var apiErr *authapi.APIError
	if errors.As(err, &apiErr) {
		return errors.New(authapi.Message(err, fallback))
	}
	return err
}
