package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"listingwatch/services"
)

func historyCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [listing-id]",
		Short: "Show stored snapshots of one listing, newest first, or list tracked ids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				return printListingIDs(cmd, a)
			}

			records, err := a.store.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(os.Stdout, "No snapshots for %s\n", args[0])
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.SetTitle("History of " + args[0])
			t.AppendHeader(table.Row{"Observed", "Price", "Status", "Days", "Images", "Title"})
			for _, r := range records {
				l := r.Listing
				if l == nil {
					continue
				}
				t.AppendRow(table.Row{
					l.LastUpdatedAt.Format(time.RFC3339),
					l.Price,
					l.Status,
					l.DaysOnMarket,
					l.ImageCount(),
					l.Title,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum snapshots to show (0 for all)")
	return cmd
}

func printListingIDs(cmd *cobra.Command, a *app) error {
	ids, err := a.store.ListingIDs(cmd.Context())
	if err != nil {
		return err
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Tracked listings")
	t.AppendHeader(table.Row{"ID", "Price", "Status", "Title"})
	for _, id := range ids {
		l, err := a.store.Get(cmd.Context(), id)
		if err != nil || l == nil {
			t.AppendRow(table.Row{id, "", "", ""})
			continue
		}
		t.AppendRow(table.Row{id, l.Price, l.Status, l.Title})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(ids)})
	t.Render()
	return nil
}

func changesCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show the most recent change events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := loadConfig()
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.RecentChanges(ctx, limit)
			if err != nil {
				return err
			}
			services.PrintChanges(os.Stdout, "Recent changes", events)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "maximum events to show")
	return cmd
}
