package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"listingwatch/models"
	"listingwatch/services"
)

func importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <url>",
		Short: "Scrape one listing page and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Import(ctx, args[0])
			if err != nil {
				return err
			}

			services.PrintListings(os.Stdout, "Imported listing", []*models.Listing{res.Listing})
			switch {
			case res.IsNew:
				fmt.Fprintln(os.Stdout, "First observation recorded.")
			case len(res.Changes) > 0:
				services.PrintChanges(os.Stdout, "Changes", res.Changes)
			default:
				fmt.Fprintln(os.Stdout, "No changes since the last observation.")
			}
			if res.Outcome == models.OutcomePartial {
				fmt.Fprintf(os.Stdout, "Warning: %s\n", res.Reason)
			}
			return nil
		},
	}
}
