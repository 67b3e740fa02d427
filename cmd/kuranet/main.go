package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "github.com/kuranet/kuranet/docs" // Load swagger docs
)

// Version is set via ldflags at build time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "kuranet",
	Short: "Kuranet - polls, votes and users over HTTP",
	Long:  `Kuranet serves a JSON API for creating polls, voting and managing users.`,
	Example: `  # Prepare a database and start the API
  kuranet migrate
  kuranet create-admin --username root
  kuranet serve --port 8080

  # Load demo data, replacing what is there
  kuranet seed --reset`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)

	serveCmd.GroupID = "server"
	configCmd.GroupID = "server"

	migrateCmd.GroupID = "admin"
	seedCmd.GroupID = "admin"
	createAdminCmd.GroupID = "admin"

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(createAdminCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
