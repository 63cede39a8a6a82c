package commands

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"listingwatch/scraper/trademe"
	"listingwatch/services"
)

func searchCommand() *cobra.Command {
	var p trademe.SearchParams

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search marketplace property listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.market == nil {
				return errors.New("search needs TRADEME_CONSUMER_KEY and TRADEME_CONSUMER_SECRET")
			}

			listings, err := a.market.Search(ctx, p)
			if err != nil {
				return err
			}
			services.PrintListings(os.Stdout, "Search results", listings)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Region, "region", "", "region id")
	f.StringVar(&p.Suburb, "suburb", "", "suburb id")
	f.Int64Var(&p.PriceMin, "price-min", 0, "minimum price")
	f.Int64Var(&p.PriceMax, "price-max", 0, "maximum price")
	f.IntVar(&p.BedroomsMin, "bedrooms-min", 0, "minimum bedrooms")
	f.BoolVar(&p.Rental, "rental", false, "search rentals instead of sales")
	f.IntVar(&p.Page, "page", 1, "result page")
	f.IntVar(&p.Rows, "rows", 25, "results per page")
	return cmd
}
