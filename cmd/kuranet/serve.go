package main

import (
	"fmt"
	"os"

	"github.com/kuranet/kuranet/internal/server"
	"github.com/spf13/cobra"
)

var servePort int

// @title Kuranet API
// @version 1.0
// @description Poll, vote and user management API
// @host localhost:8000
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Start the Kuranet HTTP API. Migrations run on start.

Examples:
  kuranet serve                 # Listen on the configured port
  kuranet serve --port 8080     # Override port

Environment variables:
  KURANET_SERVER_PORT             Server port (default: 8000)
  KURANET_DATABASE_DRIVER         Database driver: sqlite, postgres
  KURANET_DATABASE_DSN            Database connection string
  KURANET_CACHE_TYPE              Results cache: memory, valkey
  KURANET_AUTH_JWT_SECRET         JWT signing secret
  KURANET_AUTH_CREATOR_ONLY_POLLS Only creators and admins create polls
  ADMIN_USERNAME                  Bootstrap admin username
  ADMIN_PASSWORD                  Bootstrap admin password`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := server.Config{
		Port:    servePort,
		Version: Version,
	}

	if err := server.RunWithSignalHandling(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
