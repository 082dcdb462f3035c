package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/repodeck/internal/adapter/postgres"
	"github.com/Strob0t/repodeck/internal/config"
)

func newMigrateCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the action journal schema",
	}

	// dsn resolves postgres.dsn for a migrate subcommand.
	dsn := func(cmd *cobra.Command) (string, func(), error) {
		cfg, closer, err := loadConfig(cmd, root, config.CLIFlags{})
		if err != nil {
			return "", nil, err
		}
		if cfg.Postgres.DSN == "" {
			closer.Close()
			return "", nil, errors.New("postgres.dsn is not set (DATABASE_URL)")
		}
		return cfg.Postgres.DSN, closer.Close, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, done, err := dsn(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := postgres.RunMigrations(cmd.Context(), d); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			d, done, err := dsn(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := postgres.RollbackMigrations(cmd.Context(), d, steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, done, err := dsn(cmd)
			if err != nil {
				return err
			}
			defer done()
			v, err := postgres.MigrationVersion(cmd.Context(), d)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
