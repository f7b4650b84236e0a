package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "recoverydesk",
	Short: "RecoveryDesk customer portal server and client",
	Long: `RecoveryDesk runs the customer account service of the asset recovery portal
and doubles as a command line client for it: registration, login with
two-factor authentication, password reset and profile management.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		slog.SetDefault(newLogger())
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.recoverydesk/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("server-url", "", "API base URL used by client commands")
	rootCmd.PersistentFlags().String("state-dir", "", "directory holding the client session")
	rootCmd.Version = Version
}
