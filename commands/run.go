package commands

import (
	"os"

	"github.com/spf13/cobra"

	"listingwatch/services"
)

func runCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduled pass over the watchlist and tracked URLs",
		Long: `Walks the marketplace watchlist and every TRACKED_URLS entry once.
The run is skipped when the previous run finished less than
MIN_RUN_INTERVAL_MIN minutes ago, unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.pipeline.RunScheduled(ctx, services.RunMeta{
				MinInterval: cfg.MinRunInterval(),
				Force:       force,
			})
			if report != nil {
				a.pipeline.Insights().Print(os.Stdout, report)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore the minimum run interval")
	return cmd
}
