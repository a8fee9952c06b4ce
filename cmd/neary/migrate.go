package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neary-ai/neary-sub000/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database ready: %s\n", cfg.DatabaseURL)
		return nil
	},
}
