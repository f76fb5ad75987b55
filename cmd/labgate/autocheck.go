package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var autocheckCmd = &cobra.Command{
	Use:   "autocheck",
	Short: "Reconcile every access row against current compliance",
	Long: `Run one reconciliation sweep in the foreground.

Pending and revoked rows whose engineer is now compliant become active;
active rows whose engineer is no longer compliant are revoked. The sweep is
recorded in the audit log like a scheduled run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Worker.RunAutocheck(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Checked %d, activated %d, revoked %d, failed %d\n",
			res.Checked, res.Activated, res.Revoked, res.Failed)
		return nil
	},
}
