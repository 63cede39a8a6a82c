package trademe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingwatch/models"
	"listingwatch/utils"
)

const watchlistJSON = `{
  "TotalCount": 3, "Page": 1, "PageSize": 50,
  "List": [
    {"ListingId": 4521, "Title": "Sunny villa", "Category": "0350-5748-3399-",
     "CategoryPath": "/Trade-Me-Property/Residential/For-Sale",
     "PriceDisplay": "Asking price $850,000", "StartDate": "/Date(1767225600000)/",
     "PictureHref": "https://img.example/1.jpg",
     "Attributes": [
       {"Name": "bedrooms", "DisplayName": "Bedrooms", "Value": "3"},
       {"Name": "bathrooms", "DisplayName": "Bathrooms", "Value": "2 bathrooms"},
       {"Name": "property_type", "DisplayName": "Property type", "Value": "Townhouse"},
       {"Name": "location", "DisplayName": "Location", "Value": "12 Queen St, Auckland"},
       {"Name": "floor_area", "DisplayName": "Floor area", "Value": "180m²"}
     ]},
    {"ListingId": 9, "Title": "Mountain bike", "Category": "0005-0123-"},
    {"ListingId": 77, "Title": "Flat to rent", "Category": "0350-4233-",
     "CategoryPath": "/Trade-Me-Property/Residential/To-Rent",
     "PriceDisplay": "$650 per week", "StartDate": "2026-01-05T00:00:00Z",
     "Attributes": [{"Name": "listing_status", "DisplayName": "Status", "Value": "Under offer"}]}
  ]
}`

func newTestClient(baseURL string, now time.Time) *Client {
	c := New(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "K",
		ConsumerSecret: "S",
		Token:          "T",
		TokenSecret:    "TS",
		RetryDelay:     time.Millisecond,
	}, utils.NewNopLogger())
	c.now = func() time.Time { return now }
	return c
}

func TestFetchWatchlistFiltersAndMaps(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/MyTradeMe/Watchlist/All.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, watchlistJSON)
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	page, err := newTestClient(srv.URL, now).FetchWatchlist(context.Background(), 1)
	require.NoError(t, err)

	assert.Contains(t, auth, `oauth_token="T"`)
	assert.Contains(t, auth, `oauth_signature="S%26TS"`)

	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 1, page.Filtered)
	assert.False(t, page.HasMore())
	require.Len(t, page.Listings, 2)

	villa := page.Listings[0]
	assert.Equal(t, "4521", villa.ID)
	assert.Equal(t, int64(850000), villa.Price)
	require.NotNil(t, villa.Bedrooms)
	assert.Equal(t, 3, *villa.Bedrooms)
	require.NotNil(t, villa.Bathrooms)
	assert.Equal(t, 2, *villa.Bathrooms)
	assert.Equal(t, models.PropertyTownhouse, villa.PropertyType)
	assert.Equal(t, "12 Queen St, Auckland", villa.Address)
	assert.Equal(t, "180m²", villa.Area)
	assert.Equal(t, models.StatusActive, villa.Status)
	assert.Equal(t, models.ListingForSale, villa.ListingType)
	assert.Equal(t, 10, villa.DaysOnMarket)
	assert.Equal(t, []string{"https://img.example/1.jpg"}, villa.ImageURLs)
	assert.Equal(t, "https://www.trademe.co.nz/a/listing/4521", villa.SourceURL)

	flat := page.Listings[1]
	assert.Equal(t, models.ListingRental, flat.ListingType)
	assert.Equal(t, models.StatusUnderOffer, flat.Status)
	assert.Equal(t, int64(650), flat.Price)
	assert.Equal(t, 6, flat.DaysOnMarket)
}

func TestRetryRecoversAfterTwoFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"TotalCount":0,"Page":1,"PageSize":50,"List":[]}`)
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL, time.Now()).FetchWatchlist(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRetryGivesUpAfterThreeAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Now()).FetchWatchlist(context.Background(), 1)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchDetailFallsBackToWatchlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Listings/4521.json":
			http.Error(w, "gone", http.StatusBadGateway)
		case "/MyTradeMe/Watchlist/All.json":
			fmt.Fprint(w, watchlistJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC))

	l, err := c.FetchDetail(context.Background(), "4521")
	require.NoError(t, err)
	assert.Equal(t, "Sunny villa", l.Title)

	_, err = c.FetchDetail(context.Background(), "1234")
	require.Error(t, err)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestFetchDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Listings/4521.json", r.URL.Path)
		fmt.Fprint(w, `{"ListingId": 4521, "Title": "Sunny villa", "Body": "Lovely home",
			"BuyNowPrice": 799000, "Category": "0350-5748-",
			"Photos": [{"Key": 1, "Value": {"Thumbnail": "t.jpg", "FullSize": "https://img.example/full-1.jpg"}},
			           {"Key": 2, "Value": {"Large": "https://img.example/large-2.jpg"}}]}`)
	}))
	defer srv.Close()

	l, err := newTestClient(srv.URL, time.Now()).FetchDetail(context.Background(), "4521")
	require.NoError(t, err)
	assert.Equal(t, "Lovely home", l.Description)
	assert.Equal(t, int64(799000), l.Price)
	assert.Equal(t, []string{"https://img.example/full-1.jpg", "https://img.example/large-2.jpg"}, l.ImageURLs)
	assert.Equal(t, "https://img.example/full-1.jpg", l.PrimaryImageURL)
}

func TestSearchBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Search/Property/Rental.json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("region"))
		assert.Equal(t, "500", q.Get("price_max"))
		assert.Equal(t, "2", q.Get("bedrooms_min"))
		assert.Empty(t, q.Get("price_min"))
		fmt.Fprint(w, `{"TotalCount":1,"List":[{"ListingId":5,"Title":"Unit","Bedrooms":2,"PropertyType":"Apartment","Suburb":"Ponsonby","Region":"Auckland"}]}`)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, time.Now()).Search(context.Background(), SearchParams{
		Region:      "1",
		PriceMax:    500,
		BedroomsMin: 2,
		Rental:      true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ListingRental, got[0].ListingType)
	assert.Equal(t, models.PropertyApartment, got[0].PropertyType)
	assert.Equal(t, "Ponsonby, Auckland", got[0].Address)
	require.NotNil(t, got[0].Bedrooms)
	assert.Equal(t, 2, *got[0].Bedrooms)
}

func TestParseAPIDate(t *testing.T) {
	got, err := parseAPIDate("/Date(1767225600000+1300)/")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseAPIDate("yesterday")
	assert.Error(t, err)
}
