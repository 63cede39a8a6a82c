package models

import "time"

// RunReport holds the analytics computed over one pipeline run.
type RunReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Skipped    bool
	SkipReason string

	TotalItems  int
	Succeeded   int
	Partial     int
	Failed      int
	NewListings int

	ChangesByType    map[ChangeType]int
	PriceDrops       int
	PriceRises       int
	BiggestPriceDrop *ChangeEvent

	AveragePrice  float64
	MinPrice      int64
	MaxPrice      int64
	MostExpensive *Listing

	ListingsByStatus map[Status]int
	ListingsByType   map[PropertyType]int

	Failures []ItemResult
}

// Duration is the wall time the run took.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
