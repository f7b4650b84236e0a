package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/recoverydesk/api"
	icrypto "github.com/jmcleod/recoverydesk/internal/crypto"
	"github.com/jmcleod/recoverydesk/internal/util"
)

var (
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the account service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		secret, err := serverSecret()
		if err != nil {
			return err
		}
		defer util.WipeBytes(secret)

		repo, closeRepo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer closeRepo()

		idle := cfg.GetDuration(keyIdleTimeout)
		wrappingKey, err := icrypto.DeriveSessionWrappingKey(secret)
		if err != nil {
			return err
		}
		sessions, err := api.NewPersistentSessionStore(repo, idle, wrappingKey)
		util.WipeBytes(wrappingKey)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer sessions.Close()

		proxies, err := api.ParseTrustedProxies(cfg.GetStringSlice(keyTrustedProxies))
		if err != nil {
			return err
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithSessionStore(sessions),
			api.WithIdleTimeout(idle),
			api.WithTrustedProxies(proxies),
			api.WithRequireEmailVerification(cfg.GetBool(keyRequireVerification)),
			api.WithPublicURL(cfg.GetString(keyPublicURL)),
			api.WithAlertFunc(func(evt api.AlertEvent) {
				logger.Warn("security alert",
					"type", evt.Type,
					"message", evt.Message,
					"count", evt.Count,
					"threshold", evt.Threshold,
				)
			}),
		}
		if url := cfg.GetString(keyAMQPURL); url != "" {
			mailer, err := api.DialAMQPMailer(url, cfg.GetString(keyMailQueue))
			if err != nil {
				return fmt.Errorf("failed to connect to mail queue: %w", err)
			}
			defer mailer.Close()
			opts = append(opts, api.WithMailer(mailer))
		}
		if url := cfg.GetString(keyWebhookURL); url != "" {
			opts = append(opts, api.WithAuditWebhook(url, cfg.GetString(keyWebhookAuth)))
		}

		a, err := api.New(repo, secret, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount(api.MountPath, a.Router())

		server := &http.Server{
			Addr:              cfg.GetString(keyServerAddr),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server started",
			"addr", server.Addr,
			"storage", cfg.GetString(keyStorage),
			"tls", server.TLSConfig != nil,
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().String("addr", ":8080", "address to listen on")
	serverCmd.Flags().String("data-dir", "", "directory for the bbolt database")
	serverCmd.Flags().String("storage", "bbolt", "storage backend: bbolt, postgres or memory")
	serverCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	serverCmd.Flags().String("public-url", "", "base URL used in emailed links")
	serverCmd.Flags().String("amqp-url", "", "AMQP broker URL for outgoing mail")
	serverCmd.Flags().Bool("require-email-verification", true, "require new accounts to verify their email")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to TLS key file")
}
