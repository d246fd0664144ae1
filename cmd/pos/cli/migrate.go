package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := loadRuntime()
				if err != nil {
					return err
				}
				return migrateUp(cfg.PGDSN, logger)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := loadRuntime()
				if err != nil {
					return err
				}
				return withMigrator(cfg.PGDSN, logger, func(m *db.Migrator) error {
					return m.Down()
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := loadRuntime()
				if err != nil {
					return err
				}
				return withMigrator(cfg.PGDSN, logger, func(m *db.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func migrateUp(dsn string, logger *slog.Logger) error {
	return withMigrator(dsn, logger, func(m *db.Migrator) error {
		return m.Up()
	})
}

func withMigrator(dsn string, logger *slog.Logger, fn func(*db.Migrator) error) (err error) {
	m, err := db.NewMigrator(dsn, logger)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}
