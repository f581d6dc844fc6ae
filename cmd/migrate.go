package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/upgrade"
)

var migrationsDir string

// migrationSource picks the migrations directory: the flag, then
// database.migrations_dir when it exists, then migrations/ beside the binary.
func migrationSource(cfg config.DatabaseConfig) string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if cfg.MigrationsDir != "" {
		if _, err := os.Stat(cfg.MigrationsDir); err == nil {
			return cfg.MigrationsDir
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// withMigrator opens a migrator against the postgres audit database and
// closes it once fn returns. ErrNoChange is not an error.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return errors.New("INTENTROUTER_POSTGRES_DSN is not set; migrations only apply to the postgres backend")
	}

	m, err := migrate.New("file://"+migrationSource(cfg.Database), cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func logVersion(m *migrate.Migrate, msg string) {
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		slog.Warn(msg, "error", err)
		return
	}
	slog.Info(msg, "version", v, "dirty", dirty, "required", upgrade.RequiredSchemaVersion)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres audit schema",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "migrations directory (default: database.migrations_dir)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("migrate up: %w", err)
					}
					logVersion(m, "schema migrated")
					return nil
				})
			},
		},
		migrateDownCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show the schema version and whether this binary accepts it",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					v, dirty, err := m.Version()
					switch {
					case errors.Is(err, migrate.ErrNilVersion):
						fmt.Printf("version: none (required %d)\n", upgrade.RequiredSchemaVersion)
						return nil
					case err != nil:
						return fmt.Errorf("read version: %w", err)
					}
					fmt.Printf("version: %d, dirty: %v, required: %d\n", v, dirty, upgrade.RequiredSchemaVersion)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the recorded version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Force(v); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					logVersion(m, "schema version forced")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Migrate(uint(v)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("migrate goto: %w", err)
					}
					logVersion(m, "schema migrated")
					return nil
				})
			},
		},
	)
	return cmd
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			if steps <= 0 {
				steps = 1
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
				logVersion(m, "schema rolled back")
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	return cmd
}
