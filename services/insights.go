package services

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"listingwatch/models"
	"listingwatch/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes the per-item results of one run.
func (s *InsightService) Generate(results []models.ItemResult, started, finished time.Time) *models.RunReport {
	report := &models.RunReport{
		StartedAt:        started,
		FinishedAt:       finished,
		TotalItems:       len(results),
		ChangesByType:    make(map[models.ChangeType]int),
		ListingsByStatus: make(map[models.Status]int),
		ListingsByType:   make(map[models.PropertyType]int),
	}

	var priced []*models.Listing
	var biggestDrop float64

	for i := range results {
		r := results[i]
		switch r.Outcome {
		case models.OutcomeSuccess:
			report.Succeeded++
		case models.OutcomePartial:
			report.Partial++
		default:
			report.Failed++
			report.Failures = append(report.Failures, r)
		}
		if r.IsNew {
			report.NewListings++
		}

		for _, c := range r.Changes {
			report.ChangesByType[c.ChangeType]++
			if c.ChangeType != models.ChangePrice {
				continue
			}
			oldP, errOld := strconv.ParseInt(c.OldValue, 10, 64)
			newP, errNew := strconv.ParseInt(c.NewValue, 10, 64)
			if errOld != nil || errNew != nil || oldP == 0 || newP == 0 {
				continue
			}
			switch {
			case newP < oldP:
				report.PriceDrops++
				if drop := float64(oldP-newP) / float64(oldP); drop > biggestDrop {
					biggestDrop = drop
					report.BiggestPriceDrop = c
				}
			case newP > oldP:
				report.PriceRises++
			}
		}

		if l := r.Listing; l != nil {
			if l.Status != "" {
				report.ListingsByStatus[l.Status]++
			}
			if l.PropertyType != "" {
				report.ListingsByType[l.PropertyType]++
			}
			if l.Price > 0 {
				priced = append(priced, l)
			}
		}
	}

	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = priced[0]
		var total float64
		for _, l := range priced {
			total += float64(l.Price)
			if l.Price < report.MinPrice {
				report.MinPrice = l.Price
			}
			if l.Price > report.MaxPrice {
				report.MaxPrice = l.Price
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
	}

	return report
}

// Print renders the report as tables on w.
func (s *InsightService) Print(w io.Writer, r *models.RunReport) {
	if r.Skipped {
		fmt.Fprintf(w, "\nRun skipped: %s\n", r.SkipReason)
		return
	}

	overview := newTable(w, "Run overview")
	overview.AppendRows([]table.Row{
		{"Started", r.StartedAt.Format(time.RFC3339)},
		{"Duration", r.Duration().Round(time.Millisecond)},
		{"Items", r.TotalItems},
		{"Succeeded", r.Succeeded},
		{"Partial", r.Partial},
		{"Failed", r.Failed},
		{"New listings", r.NewListings},
	})
	overview.Render()

	prices := newTable(w, "Prices")
	if r.AveragePrice > 0 {
		prices.AppendRows([]table.Row{
			{"Average", "$" + humanize.Comma(int64(r.AveragePrice+0.5))},
			{"Minimum", "$" + humanize.Comma(r.MinPrice)},
			{"Maximum", "$" + humanize.Comma(r.MaxPrice)},
			{"Drops / rises", fmt.Sprintf("%d / %d", r.PriceDrops, r.PriceRises)},
		})
		if r.MostExpensive != nil {
			prices.AppendRow(table.Row{"Most expensive", truncate(r.MostExpensive.Title, 50)})
		}
		if d := r.BiggestPriceDrop; d != nil {
			prices.AppendRow(table.Row{"Biggest drop", truncate(d.ListingTitle, 30) + ": " + d.Description})
		}
	} else {
		prices.AppendRow(table.Row{"No price data available", ""})
	}
	prices.Render()

	if len(r.ChangesByType) > 0 {
		changes := newTable(w, "Changes")
		changes.AppendHeader(table.Row{"Type", "Count"})
		for _, kv := range sortedCounts(r.ChangesByType) {
			changes.AppendRow(table.Row{kv.key, kv.count})
		}
		changes.Render()
	}

	if len(r.ListingsByStatus)+len(r.ListingsByType) > 0 {
		mix := newTable(w, "Listings")
		mix.AppendHeader(table.Row{"Group", "Value", "Count"})
		for _, kv := range sortedCounts(r.ListingsByStatus) {
			mix.AppendRow(table.Row{"status", kv.key, kv.count})
		}
		for _, kv := range sortedCounts(r.ListingsByType) {
			mix.AppendRow(table.Row{"type", kv.key, kv.count})
		}
		mix.Render()
	}

	if len(r.Failures) > 0 {
		failures := newTable(w, "Failures")
		failures.AppendHeader(table.Row{"Listing", "Reason"})
		for _, f := range r.Failures {
			id := f.ListingID
			if id == "" {
				id = f.SourceURL
			}
			failures.AppendRow(table.Row{truncate(id, 40), truncate(f.Reason, 60)})
		}
		failures.Render()
	}
}

// PrintChanges renders change events, newest first as given.
func PrintChanges(w io.Writer, title string, events []*models.ChangeEvent) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{"Date", "Listing", "Type", "Old", "New", "Description"})
	for _, e := range events {
		t.AppendRow(table.Row{
			e.ChangeDate.Format("2006-01-02 15:04"),
			truncate(e.ListingTitle, 30),
			e.ChangeType,
			truncate(e.OldValue, 16),
			truncate(e.NewValue, 16),
			truncate(e.Description, 50),
		})
	}
	t.AppendFooter(table.Row{"Total", len(events)})
	t.Render()
}

// PrintListings renders a compact listing table.
func PrintListings(w io.Writer, title string, listings []*models.Listing) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{"ID", "Title", "Price", "Beds", "Type", "Status", "Days"})
	for _, l := range listings {
		price := "-"
		if l.Price > 0 {
			price = "$" + humanize.Comma(l.Price)
		}
		beds := "-"
		if l.Bedrooms != nil {
			beds = strconv.Itoa(*l.Bedrooms)
		}
		t.AppendRow(table.Row{l.ID, truncate(l.Title, 40), price, beds, l.PropertyType, l.Status, l.DaysOnMarket})
	}
	t.AppendFooter(table.Row{"Total", len(listings)})
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

type keyCount struct {
	key   string
	count int
}

func sortedCounts[K ~string](m map[K]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		out = append(out, keyCount{string(k), v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
