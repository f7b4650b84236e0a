package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmcleod/recoverydesk/api"
	"github.com/jmcleod/recoverydesk/identity"
	"github.com/jmcleod/recoverydesk/internal/prompt"
	"github.com/jmcleod/recoverydesk/internal/util"
)

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create an active account with any role directly in server storage",
	Long: `useradd writes an account straight into the server's storage, bypassing
public registration. It is how support agents and administrators are
provisioned. It uses the server configuration (storage backend and secret).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roleName, _ := cmd.Flags().GetString("role")
		role, err := identity.ParseRole(roleName)
		if err != nil {
			return err
		}

		p := prompt.Stdio()
		nu := api.NewUser{Role: role}
		if nu.Email, err = flagOrLine(cmd, p, "email", "Email"); err != nil {
			return err
		}
		if nu.FirstName, err = flagOrLine(cmd, p, "first-name", "First name"); err != nil {
			return err
		}
		if nu.LastName, err = flagOrLine(cmd, p, "last-name", "Last name"); err != nil {
			return err
		}
		password, err := p.NewSecret("Password")
		if err != nil {
			return err
		}
		defer password.Destroy()
		nu.Password = password.String()

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

		a, err := api.New(repo, secret, api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.CreateUser(cmd.Context(), nu)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Created account:")
		printUser(cmd.OutOrStdout(), user)
		return nil
	},
}

func init() {
	useraddCmd.Flags().String("role", string(identity.RoleUser), "role: user, support_agent or admin")
	useraddCmd.Flags().String("email", "", "account email")
	useraddCmd.Flags().String("first-name", "", "first name")
	useraddCmd.Flags().String("last-name", "", "last name")
	useraddCmd.Flags().String("data-dir", "", "directory for the bbolt database")
	useraddCmd.Flags().String("storage", "bbolt", "storage backend: bbolt, postgres or memory")
	useraddCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	rootCmd.AddCommand(useraddCmd)
}
