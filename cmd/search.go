package cmd

import (
	"fmt"
	"strings"

	"Boombot/core/plugin"
	"Boombot/core/search"
	"Boombot/logger"
	"Boombot/storage"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Run one aggregated search and print the ranked results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		var library plugin.ObjectLister
		if cfg.MinioEnabled() {
			store, err := storage.NewStore(ctx, cfg)
			if err != nil {
				return err
			}
			library = store
		}

		reg, err := buildRegistry(cfg, library, nil, logger.L())
		if err != nil {
			return err
		}
		tracks := search.NewAggregator(reg.Providers(), cfg.ProviderTimeout, logger.L()).Search(ctx, query)
		if len(tracks) == 0 {
			fmt.Printf("No results for %q (providers: %s)\n", query, strings.Join(reg.Names(), ", "))
			return nil
		}

		tracks = lo.Subset(tracks, 0, uint(searchLimit))
		fmt.Printf("%d results for %q:\n", len(tracks), query)
		for i, t := range tracks {
			fmt.Printf("%2d. [%d] %s (%s) via %s\n", i+1, search.Distance(query, t), t.Display(), t.Length, t.Source)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "maximum number of results to print")
}
