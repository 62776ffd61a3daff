package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/decksnap/decksnap-sync/database"
)

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the schema up to date.
The connection parameters are read from the database section of the config file.`,
		RunE: runMigrateUp,
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := loadMigration(cmd)
	if err != nil {
		return err
	}

	ok, err := m.confirm(cmd, "apply migrations")
	if err != nil || !ok {
		return err
	}

	connString, err := m.cfg.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	slog.Info("Applying database migrations", "steps", m.steps)
	if err := database.MigrateUp(connString, m.steps); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	reportVersion(connString)
	return nil
}
