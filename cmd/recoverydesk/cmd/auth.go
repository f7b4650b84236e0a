package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jmcleod/recoverydesk/authapi"
	"github.com/jmcleod/recoverydesk/internal/prompt"
	"github.com/jmcleod/recoverydesk/session"
)

const maxCodeAttempts = 3

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a customer account",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := prompt.Stdio()
		req := authapi.RegisterRequest{}
		var err error
		if req.Email, err = flagOrLine(cmd, p, "email", "Email"); err != nil {
			return err
		}
		if req.FirstName, err = flagOrLine(cmd, p, "first-name", "First name"); err != nil {
			return err
		}
		if req.LastName, err = flagOrLine(cmd, p, "last-name", "Last name"); err != nil {
			return err
		}
		req.Phone, _ = cmd.Flags().GetString("phone")

		password, err := p.NewSecret("Password")
		if err != nil {
			return err
		}
		defer password.Destroy()
		req.Password = password.String()

		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		res, err := c.store.Register(cmd.Context(), req)
		if err != nil {
			return describe(err, "Registration failed")
		}
		out := cmd.OutOrStdout()
		if res.RequiresVerification {
			fmt.Fprintf(out, "Account created. Check %s for a verification link.\n", res.Email)
			return nil
		}
		fmt.Fprintln(out, "Account created and signed in.")
		printUser(out, c.store.Snapshot().User)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in, answering a two-factor challenge if one is issued",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := prompt.Stdio()
		email, err := flagOrLine(cmd, p, "email", "Email")
		if err != nil {
			return err
		}
		password, err := p.Secret("Password")
		if err != nil {
			return err
		}
		defer password.Destroy()

		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		ctx := cmd.Context()
		res, err := c.store.Login(ctx, email, password.String())
		if err != nil {
			return describe(err, "Login failed")
		}
		out := cmd.OutOrStdout()
		if res.RequiresVerification {
			fmt.Fprintf(out, "Verify %s before signing in. Run resend-verification for a new link.\n", res.Email)
			return nil
		}
		if res.RequiresTwoFactor {
			if err := answerChallenge(cmd, p, c.store); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, "Signed in.")
		printUser(out, c.store.Snapshot().User)
		return nil
	},
}

// answerChallenge asks for authentication codes until one is accepted, the
// attempts run out or the server rejects the challenge itself.
func answerChallenge(cmd *cobra.Command, p *prompt.Prompter, store *session.Store) error {
	var err error
	for range maxCodeAttempts {
		var code string
		if code, err = p.Line("Authentication code"); err != nil {
			return err
		}
		if err = store.Verify2FA(cmd.Context(), code); err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrUnexpectedResponse) && !authapi.IsStatus(err, http.StatusUnauthorized) {
			break
		}
		fmt.Fprintln(cmd.ErrOrStderr(), authapi.Message(err, "Verification failed"))
	}
	return describe(err, "Verification failed")
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and revoke the current token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		c.store.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user, refreshed from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.store.RefreshUser(cmd.Context()); err != nil {
			if errors.Is(err, session.ErrNotAuthenticated) {
				return errors.New("not signed in")
			}
			return describe(err, "Session is no longer valid; sign in again")
		}
		printUser(cmd.OutOrStdout(), c.store.Snapshot().User)
		return nil
	},
}

var verifyEmailCmd = &cobra.Command{
	Use:   "verify-email <token>",
	Short: "Confirm an email address with the emailed token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return passThrough(cmd, func(c *client) (string, error) {
			return c.store.VerifyEmail(cmd.Context(), args[0])
		})
	},
}

var resendVerificationCmd = &cobra.Command{
	Use:   "resend-verification",
	Short: "Send a new verification link",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := flagOrLine(cmd, prompt.Stdio(), "email", "Email")
		if err != nil {
			return err
		}
		return passThrough(cmd, func(c *client) (string, error) {
			return c.store.ResendVerification(cmd.Context(), email)
		})
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover a forgotten password",
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Email a password reset link",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, err := flagOrLine(cmd, prompt.Stdio(), "email", "Email")
		if err != nil {
			return err
		}
		return passThrough(cmd, func(c *client) (string, error) {
			return c.store.ForgotPassword(cmd.Context(), email)
		})
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset <token>",
	Short: "Set a new password with the emailed token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := prompt.Stdio().NewSecret("New password")
		if err != nil {
			return err
		}
		defer password.Destroy()
		return passThrough(cmd, func(c *client) (string, error) {
			return c.store.ResetPassword(cmd.Context(), args[0], password.String())
		})
	},
}

// passThrough runs a call whose answer is a message for the user.
func passThrough(cmd *cobra.Command, call func(c *client) (string, error)) error {
	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.close()

	msg, err := call(c)
	if err != nil {
		return describe(err, "Request failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

// flagOrLine returns the value of flag, prompting with label when it was
// not given.
func flagOrLine(cmd *cobra.Command, p *prompt.Prompter, flag, label string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	return p.Line(label)
}

func init() {
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("first-name", "", "first name")
	registerCmd.Flags().String("last-name", "", "last name")
	registerCmd.Flags().String("phone", "", "phone number")
	loginCmd.Flags().String("email", "", "account email")
	resendVerificationCmd.Flags().String("email", "", "account email")
	passwordForgotCmd.Flags().String("email", "", "account email")

	passwordCmd.AddCommand(passwordForgotCmd, passwordResetCmd)
	rootCmd.AddCommand(
		registerCmd,
		loginCmd,
		logoutCmd,
		whoamiCmd,
		verifyEmailCmd,
		resendVerificationCmd,
		passwordCmd,
	)
}
