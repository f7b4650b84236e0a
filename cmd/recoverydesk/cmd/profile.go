package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmcleod/recoverydesk/authapi"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or change the signed-in user's profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached profile without contacting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		snap := c.store.Snapshot()
		if !snap.IsAuthenticated() {
			return errors.New("not signed in")
		}
		printUser(cmd.OutOrStdout(), snap.User)
		return nil
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change profile fields; only the flags given are sent",
	RunE: func(cmd *cobra.Command, args []string) error {
		update := profileUpdateFromFlags(cmd.Flags())
		if update.Empty() {
			return errors.New("nothing to update; pass at least one field flag")
		}

		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.store.UpdateProfile(cmd.Context(), update); err != nil {
			return describe(err, "Profile update failed")
		}
		printUser(cmd.OutOrStdout(), c.store.Snapshot().User)
		return nil
	},
}

// profileUpdateFromFlags sets a field for every flag the user passed, so an
// explicit empty value clears the field.
func profileUpdateFromFlags(flags *pflag.FlagSet) authapi.ProfileUpdate {
	var u authapi.ProfileUpdate
	fields := map[string]**string{
		"first-name": &u.FirstName,
		"last-name":  &u.LastName,
		"phone":      &u.Phone,
		"avatar":     &u.Avatar,
	}
	for name, dst := range fields {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = &v
		}
	}
	return u
}

func init() {
	profileUpdateCmd.Flags().String("first-name", "", "first name")
	profileUpdateCmd.Flags().String("last-name", "", "last name")
	profileUpdateCmd.Flags().String("phone", "", "phone number")
	profileUpdateCmd.Flags().String("avatar", "", "avatar image URL")

	profileCmd.AddCommand(profileShowCmd, profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}
