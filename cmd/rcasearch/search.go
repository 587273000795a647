package main

import (
	"github.com/spf13/cobra"

	"github.com/TheEntropyCollective/rcasearch/pkg/search"
	"github.com/TheEntropyCollective/rcasearch/pkg/util"
)

type searchFlag struct {
	param string
	name  string
	usage string
}

var searchFlags = []searchFlag{
	{search.ParamTitle, "title", "Approximate title"},
	{search.ParamYear, "year", "Registration year"},
	{search.ParamPerson, "person", "Person name (director, producer, actor...)"},
	{search.ParamRole, "role", "Role of --person, e.g. realisateur, producteur, acteur"},
	{search.ParamProduction, "production", "Production company or nationality"},
	{search.ParamKeywords, "keywords", "Words of the synopsis"},
	{search.ParamType, "type", "Film type"},
	{search.ParamGenre, "genre", "Genre"},
	{search.ParamBudget, "budget", "Minimum budget in euros"},
}

func newSearchCmd() *cobra.Command {
	values := make(map[string]*string, len(searchFlags))

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one search and print the results as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			params := search.Params{}
			for param, v := range values {
				params[param] = *v
			}
			criteria := search.NormalizeCriteria(params)

			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			results, err := newSearchService(db).Search(ctx, criteria)
			if err != nil {
				return err
			}
			return util.WriteJSON(cmd.OutOrStdout(), results)
		},
	}

	for _, f := range searchFlags {
		values[f.param] = cmd.Flags().String(f.name, "", f.usage)
	}
	return cmd
}
