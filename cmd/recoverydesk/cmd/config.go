package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "RECOVERYDESK"

// Configuration keys.
const (
	keyServerURL           = "server.url"
	keyServerAddr          = "server.addr"
	keyDataDir             = "server.data_dir"
	keyStorage             = "server.storage"
	keyPostgresDSN         = "server.postgres_dsn"
	keyJWTSecret           = "server.jwt_secret"
	keyRequireVerification = "server.require_email_verification"
	keyPublicURL           = "server.public_url"
	keyAMQPURL             = "server.amqp_url"
	keyMailQueue           = "server.mail_queue"
	keyWebhookURL          = "server.audit_webhook_url"
	keyWebhookAuth         = "server.audit_webhook_auth"
	keyTrustedProxies      = "server.trusted_proxies"
	keyIdleTimeout         = "server.idle_timeout"
	keyStateDir            = "client.state_dir"
	keyLogLevel            = "log.level"
)

// flagKeys binds command line flags to configuration keys. Flags win over
// the environment, which wins over the config file.
var flagKeys = map[string]string{
	"server-url":                 keyServerURL,
	"state-dir":                  keyStateDir,
	"log-level":                  keyLogLevel,
	"addr":                       keyServerAddr,
	"data-dir":                   keyDataDir,
	"storage":                    keyStorage,
	"postgres-dsn":               keyPostgresDSN,
	"public-url":                 keyPublicURL,
	"amqp-url":                   keyAMQPURL,
	"require-email-verification": keyRequireVerification,
}

var cfg = viper.New()

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".recoverydesk")

	v.SetDefault(keyServerURL, "http://localhost:8080/api")
	v.SetDefault(keyServerAddr, ":8080")
	v.SetDefault(keyDataDir, filepath.Join(base, "data"))
	v.SetDefault(keyStorage, "bbolt")
	v.SetDefault(keyRequireVerification, true)
	v.SetDefault(keyPublicURL, "http://localhost:8080")
	v.SetDefault(keyMailQueue, "email_jobs")
	v.SetDefault(keyIdleTimeout, "30m")
	v.SetDefault(keyStateDir, base)
	v.SetDefault(keyLogLevel, "info")
}

// initConfig loads defaults, the config file and RECOVERYDESK_* environment
// variables, then binds the flags of cmd.
func initConfig(cmd *cobra.Command) error {
	setDefaults(cfg)

	if cfgFile != "" {
		cfg.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfg.AddConfigPath(filepath.Join(home, ".recoverydesk"))
		cfg.SetConfigName("config")
		cfg.SetConfigType("yaml")
	}

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := cfg.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandHome resolves a leading ~ in p.
func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.GetString(keyLogLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
