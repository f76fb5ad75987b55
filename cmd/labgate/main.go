package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nebari-dev/labgate/docs" // Load swagger docs
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "labgate",
	Short: "labgate - Lab access compliance service",
	Long: `labgate tracks engineer training and document acknowledgements and
reconciles lab access against each lab's requirements.`,
	Example: `  # Run the API server and the autocheck worker
  labgate serve

  # Load the demo data set and run one reconciliation sweep
  labgate seed
  labgate autocheck

  # Export a report
  labgate report active -o active_access.csv`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)

	serveCmd.GroupID = "server"
	migrateCmd.GroupID = "server"

	seedCmd.GroupID = "data"
	importCmd.GroupID = "data"
	autocheckCmd.GroupID = "data"
	reportCmd.GroupID = "data"

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(autocheckCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
