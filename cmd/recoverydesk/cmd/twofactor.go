package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/recoverydesk/internal/prompt"
)

var twoFactorCmd = &cobra.Command{
	Use:   "2fa",
	Short: "Manage two-factor authentication",
}

var twoFactorEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start enrollment and print the authenticator secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		setup, err := c.store.Enable2FA(cmd.Context())
		if err != nil {
			return describe(err, "Failed to enable 2FA")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Secret:      %s\n", setup.Secret)
		fmt.Fprintf(out, "otpauth URL: %s\n", setup.QRCode)
		fmt.Fprintln(out, "Add the secret to your authenticator app, then run: recoverydesk 2fa confirm")
		return nil
	},
}

var twoFactorConfirmCmd = &cobra.Command{
	Use:   "confirm [code]",
	Short: "Finish enrollment with a code from the authenticator",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := codeArg(args)
		if err != nil {
			return err
		}
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.store.Verify2FASetup(cmd.Context(), code); err != nil {
			return describe(err, "Failed to confirm 2FA")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Two-factor authentication enabled.")
		return nil
	},
}

var twoFactorDisableCmd = &cobra.Command{
	Use:   "disable [code]",
	Short: "Turn two-factor authentication off",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := codeArg(args)
		if err != nil {
			return err
		}
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.store.Disable2FA(cmd.Context(), code); err != nil {
			return describe(err, "Failed to disable 2FA")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Two-factor authentication disabled.")
		return nil
	},
}

func codeArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return prompt.Stdio().Line("Authentication code")
}

func init() {
	twoFactorCmd.AddCommand(twoFactorEnableCmd, twoFactorConfirmCmd, twoFactorDisableCmd)
	rootCmd.AddCommand(twoFactorCmd)
}
