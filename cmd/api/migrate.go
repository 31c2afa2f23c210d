package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"libprep/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the sample database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()
			return store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir, log)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()
			return store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, steps, log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back; 0 rolls back all")

	cmd.AddCommand(up, down)
	return cmd
}
