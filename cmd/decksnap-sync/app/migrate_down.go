package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/decksnap/decksnap-sync/database"
)

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  decksnap-sync migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  decksnap-sync migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	}
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := loadMigration(cmd)
	if err != nil {
		return err
	}

	action := fmt.Sprintf("revert %d migration(s)", m.steps)
	if m.steps == 0 {
		action = "revert ALL migrations"
	}
	ok, err := m.confirm(cmd, action)
	if err != nil || !ok {
		return err
	}

	connString, err := m.cfg.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	slog.Warn("Reverting database migrations", "steps", m.steps)
	if err := database.MigrateDown(connString, m.steps); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	reportVersion(connString)
	return nil
}
