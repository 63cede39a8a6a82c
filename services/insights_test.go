package services

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingwatch/models"
)

func sampleResults() []models.ItemResult {
	return []models.ItemResult{
		{
			ListingID: "1", Outcome: models.OutcomeSuccess, IsNew: true,
			Listing: &models.Listing{ID: "1", Title: "Villa A", Price: 900000, Status: models.StatusActive, PropertyType: models.PropertyHouse},
		},
		{
			ListingID: "2", Outcome: models.OutcomeSuccess,
			Listing: &models.Listing{ID: "2", Title: "Flat B", Price: 500000, Status: models.StatusUnderOffer, PropertyType: models.PropertyApartment},
			Changes: []*models.ChangeEvent{
				{ChangeType: models.ChangePrice, OldValue: "550000", NewValue: "500000", ListingTitle: "Flat B", Description: "Price decreased by 9.1%"},
				{ChangeType: models.ChangeStatus, OldValue: "active", NewValue: "underOffer"},
			},
		},
		{
			ListingID: "3", Outcome: models.OutcomePartial,
			Listing: &models.Listing{ID: "3", Title: "Bach C", Price: 0, Status: models.StatusActive, PropertyType: models.PropertyHouse},
			Changes: []*models.ChangeEvent{
				{ChangeType: models.ChangePrice, OldValue: "400000", NewValue: "380000", ListingTitle: "Bach C"},
				{ChangeType: models.ChangePrice, OldValue: "100", NewValue: "120"},
			},
		},
		{ListingID: "4", Outcome: models.OutcomeFailure, Reason: "timeout"},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleResults(), fixedNow, fixedNow.Add(time.Minute))

	assert.Equal(t, 4, r.TotalItems)
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Partial)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.NewListings)
	assert.Equal(t, time.Minute, r.Duration())
	require.Len(t, r.Failures, 1)
	assert.Equal(t, "timeout", r.Failures[0].Reason)

	assert.Equal(t, 3, r.ChangesByType[models.ChangePrice])
	assert.Equal(t, 1, r.ChangesByType[models.ChangeStatus])
	assert.Equal(t, 2, r.ListingsByStatus[models.StatusActive])
	assert.Equal(t, 2, r.ListingsByType[models.PropertyHouse])
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleResults(), fixedNow, fixedNow)

	assert.Equal(t, 700000.0, r.AveragePrice)
	assert.Equal(t, int64(500000), r.MinPrice)
	assert.Equal(t, int64(900000), r.MaxPrice)
	require.NotNil(t, r.MostExpensive)
	assert.Equal(t, "Villa A", r.MostExpensive.Title)

	assert.Equal(t, 2, r.PriceDrops)
	assert.Equal(t, 1, r.PriceRises)
	require.NotNil(t, r.BiggestPriceDrop)
	assert.Equal(t, "Flat B", r.BiggestPriceDrop.ListingTitle)
}

func TestInsightEmpty(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil, fixedNow, fixedNow)
	assert.Equal(t, 0, r.TotalItems)
	assert.Nil(t, r.MostExpensive)
	assert.Zero(t, r.AveragePrice)
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleResults(), fixedNow, fixedNow.Add(time.Minute))

	var buf bytes.Buffer
	svc.Print(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Run overview")
	assert.Contains(t, out, "$700,000")
	assert.Contains(t, out, "Villa A")
	assert.Contains(t, out, "timeout")

	buf.Reset()
	svc.Print(&buf, &models.RunReport{Skipped: true, SkipReason: "last run 5m ago"})
	assert.Contains(t, buf.String(), "Run skipped: last run 5m ago")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate(" a \n b ", 10))
}
