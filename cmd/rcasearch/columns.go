package main

import (
	"github.com/spf13/cobra"

	"github.com/TheEntropyCollective/rcasearch/pkg/search"
	"github.com/TheEntropyCollective/rcasearch/pkg/util"
)

func newColumnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "columns",
		Short: "Show how search fields map onto the table's columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			columns, err := search.NewService(db, cfg.Database.Table, logger).ColumnMap(ctx)
			if err != nil {
				return err
			}
			return util.WriteJSON(cmd.OutOrStdout(), columns)
		},
	}
}
