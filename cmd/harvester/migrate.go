package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/riskibarqy/statharvest/internal/platform/migration"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dbURL, dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the database schema",
	}
	cmd.PersistentFlags().StringVar(&dbURL, "db-url", os.Getenv("DB_URL"), "postgres connection url")
	cmd.PersistentFlags().StringVar(&dir, "dir", os.Getenv("MIGRATIONS_DIR"), "migrations directory (embedded when empty)")

	withMigrator := func(fn func(*cobra.Command, *migration.Migrator, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := migration.Open(dbURL, dir)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return fn(cmd, m, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migration.Migrator, _ []string) error {
				changed, err := m.Up()
				if err != nil {
					return err
				}
				return printStatus(cmd, m, changed)
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (one step by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m *migration.Migrator, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer")
					}
					steps = n
				}
				changed, err := m.Down(steps)
				if err != nil {
					return err
				}
				return printStatus(cmd, m, changed)
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m *migration.Migrator, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				changed, err := m.Goto(uint(version))
				if err != nil {
					return err
				}
				return printStatus(cmd, m, changed)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without running migrations and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m *migration.Migrator, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := m.Force(version); err != nil {
					return err
				}
				return printStatus(cmd, m, true)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migration.Migrator, _ []string) error {
				return printStatus(cmd, m, false)
			}),
		},
	)
	return cmd
}

func printStatus(cmd *cobra.Command, m *migration.Migrator, changed bool) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if status.Empty {
		_, _ = fmt.Fprintf(out, "source=%s version=none changed=%t\n", m.Source(), changed)
		return nil
	}
	_, _ = fmt.Fprintf(out, "source=%s version=%d dirty=%t changed=%t\n", m.Source(), status.Version, status.Dirty, changed)
	return nil
}
