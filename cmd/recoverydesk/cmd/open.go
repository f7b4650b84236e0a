package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/recoverydesk/guard"
	"github.com/jmcleod/recoverydesk/session"
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Show where the portal would send the current session for path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.close()

		printDecision(cmd.OutOrStdout(), guard.DefaultTable(), c.store.Snapshot(), args[0])
		return nil
	},
}

func printDecision(w io.Writer, table guard.Table, sess session.Session, path string) {
	d := table.Decide(sess, path)
	switch d.Action {
	case guard.RedirectLogin:
		fmt.Fprintf(w, "%s %s?from=%s\n", d.Action, d.Location, d.From)
	default:
		fmt.Fprintf(w, "%s %s\n", d.Action, d.Location)
	}
}

func init() {
	rootCmd.AddCommand(openCmd)
}
