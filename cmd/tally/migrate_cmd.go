package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tally/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.migrate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "down",
		Aliases: []string{"rollback"},
		Short:   "Roll back every applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := store.RollbackMigrations(cmd.Context(), rt.db, rt.store.Dialect()); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return err
		},
	})
	return cmd
}
