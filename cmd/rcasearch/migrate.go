package main

import (
	"github.com/spf13/cobra"

	"github.com/TheEntropyCollective/rcasearch/pkg/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (enables pg_trgm)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			return postgres.MigrateToLatest(cmd.Context(), cfg.Database.URL, logger)
		},
	}
}
