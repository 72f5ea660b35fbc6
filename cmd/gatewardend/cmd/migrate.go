package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/db"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "migrations", "migration files directory")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("gatewardend migrate: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gatewardend migrate: %w", err)
	}
	if err := db.RunMigrations(cfg.DB.Path, migrateDir); err != nil {
		return fmt.Errorf("gatewardend migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
