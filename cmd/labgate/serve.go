package main

import (
	"fmt"
	"os"

	"github.com/nebari-dev/labgate/internal/server"
	"github.com/spf13/cobra"
)

// @title labgate API
// @version 1.0
// @description Lab access compliance API
// @host localhost:8470
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var (
	servePort int
	serveMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the labgate API server and worker",
	Long: `Start labgate with the API server and/or the autocheck worker.

Examples:
  labgate serve                    # Run both API server and worker
  labgate serve --mode server      # Run API server only
  labgate serve --mode worker      # Run worker only
  labgate serve --port 8080        # Override port

Environment variables:
  LABGATE_SERVER_PORT           Server port (default: 8470)
  LABGATE_DATABASE_DRIVER       Database driver: sqlite, postgres
  LABGATE_DATABASE_DSN          Database connection string
  LABGATE_QUEUE_TYPE            Queue type: memory, valkey
  LABGATE_AUTH_JWT_SECRET       JWT signing secret
  LABGATE_AUTOCHECK_INTERVAL    Scheduled autocheck interval (0 disables)
  LABGATE_AUDIT_AMQP_URL        Publish audit events to this broker
  ADMIN_EMAIL                   Bootstrap admin email
  ADMIN_PASSWORD                Bootstrap admin password`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "both", "Run mode: server, worker, or both")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := server.Config{
		Port:    servePort,
		Mode:    serveMode,
		Version: Version,
	}

	if err := server.RunWithSignalHandling(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
