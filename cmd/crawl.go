package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand: one full crawl, then exit.
func newCrawlCmd() *cobra.Command {
	var fullUpdate bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one full crawl of the catalog",
		Long: `Plans the catalog pagination from the configured start page, walks
every page and listing with bounded concurrency and persists new listings.
With --full-update, already-known listings are refreshed in place.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("full-update") {
				fullUpdate = appInstance.Config.Crawler.FullUpdate
			}

			engine, err := appInstance.NewEngine()
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			stats := engine.Run(cmd.Context(), fullUpdate)
			appInstance.Logger.Info("crawl finished",
				zap.Int("pages_processed", stats.PagesProcessed),
				zap.Int("listings_saved", stats.ListingsSaved),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fullUpdate, "full-update", false, "refresh already-known listings instead of skipping them")
	return cmd
}
