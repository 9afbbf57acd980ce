package cmd

import (
	"context"
	"fmt"

	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/db"
	"github.com/pdai-labs/pdai/internal/db/drivers"
	"github.com/pdai-labs/pdai/internal/db/migrations"

	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/migrate"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Utility for the prediction history database",
}

func init() {
	setupMigrationCmd(dbCmd)
}

// withMigrator opens the history database for the duration of fn.
func withMigrator(ctx context.Context, fn func(m *migrate.Migrator) error) error {
	driver, err := db.NewConnection(ctx, config.GetConfig().HistoryDB)
	if err != nil {
		return err
	}
	defer func(d drivers.Driver) { _ = d.Close() }(driver)

	bdb := driver.GetDB()
	bdb.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv(),
	))

	return fn(migrate.NewMigrator(bdb, migrations.Migrations))
}

func setupMigrationCmd(parent *cobra.Command) {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Utility for handling database migrations",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "create migration tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
				return m.Init(cmd.Context())
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
				if err := m.Init(cmd.Context()); err != nil {
					return err
				}
				if err := m.Lock(cmd.Context()); err != nil {
					return err
				}
				defer m.Unlock(cmd.Context()) //nolint:errcheck

				group, err := m.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Printf("there are no new migrations to run (database is up to date)\n")
					return nil
				}
				fmt.Printf("migrated to %s\n", group)
				return nil
			})
		},
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "rollback the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
				if err := m.Lock(cmd.Context()); err != nil {
					return err
				}
				defer m.Unlock(cmd.Context()) //nolint:errcheck

				group, err := m.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Printf("there are no groups to roll back\n")
					return nil
				}
				fmt.Printf("rolled back %s\n", group)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of the migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
				status, err := m.MigrationsWithStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("migrations: %s\n", status)
				return nil
			})
		},
	}

	markAppliedCmd := &cobra.Command{
		Use:   "mark-applied",
		Short: "Mark all migrations as applied without actually running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
				group, err := m.Migrate(cmd.Context(), migrate.WithNopMigration())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Printf("there are no new migrations to mark as applied\n")
					return nil
				}
				fmt.Printf("marked as applied %s\n", group)
				return nil
			})
		},
	}

	migrationCmd.AddCommand(
		initCmd,
		migrateCmd,
		rollbackCmd,
		statusCmd,
		markAppliedCmd,
	)

	parent.AddCommand(migrationCmd)
}
