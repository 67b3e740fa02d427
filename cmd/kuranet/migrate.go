package main

import (
	"fmt"
	"log/slog"

	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/logger"
	"github.com/kuranet/kuranet/internal/rbac"
	"github.com/kuranet/kuranet/internal/server"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Run schema migrations, seed the default roles and store the default
permission policies. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCfg, database, err := openDatabase()
		if err != nil {
			return err
		}
		if _, err := rbac.New(database, slog.Default(), appCfg.Auth.CreatorOnlyPolls); err != nil {
			return fmt.Errorf("failed to store permission policies: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations complete")
		return nil
	},
}

// openDatabase loads configuration, initializes logging and returns a
// migrated database.
func openDatabase() (*config.Config, *gorm.DB, error) {
	appCfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(appCfg.Log.Format, appCfg.Log.Level)

	database, err := server.OpenDatabase(appCfg)
	if err != nil {
		return nil, nil, err
	}
	return appCfg, database, nil
}
