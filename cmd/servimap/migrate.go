package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/servimap/servimap/internal/app/storage/postgres"
	"github.com/servimap/servimap/internal/config"
	"github.com/servimap/servimap/internal/platform/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, func(db *sqlx.DB) error {
				if err := migrations.Up(db.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withDatabase(cmd, func(db *sqlx.DB) error {
				if err := migrations.Down(db.DB, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down)
	return cmd
}

func withDatabase(cmd *cobra.Command, fn func(*sqlx.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("SERVIMAP_DATABASE_DSN is required")
	}
	db, err := postgres.Open(cmd.Context(), cfg.Database.DSN, postgres.Pool{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
