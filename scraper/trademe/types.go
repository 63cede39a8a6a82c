package trademe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"listingwatch/models"
)

// listResponse is the paged envelope shared by the watchlist and search
// endpoints.
type listResponse struct {
	TotalCount int       `json:"TotalCount"`
	Page       int       `json:"Page"`
	PageSize   int       `json:"PageSize"`
	List       []apiItem `json:"List"`
}

// apiItem is a listed item as returned by the watchlist, search and detail
// endpoints. Detail responses carry Attributes and Photos; list responses
// usually only the summary fields.
type apiItem struct {
	ListingID    int64          `json:"ListingId"`
	Title        string         `json:"Title"`
	Category     string         `json:"Category"`
	CategoryPath string         `json:"CategoryPath"`
	CategoryName string         `json:"CategoryName"`
	StartPrice   float64        `json:"StartPrice"`
	BuyNowPrice  float64        `json:"BuyNowPrice"`
	PriceDisplay string         `json:"PriceDisplay"`
	StartDate    apiDate        `json:"StartDate"`
	PictureHref  string         `json:"PictureHref"`
	Photos       []apiPhoto     `json:"Photos"`
	Body         string         `json:"Body"`
	Address      string         `json:"Address"`
	Suburb       string         `json:"Suburb"`
	Region       string         `json:"Region"`
	Bedrooms     int            `json:"Bedrooms"`
	Bathrooms    int            `json:"Bathrooms"`
	PropertyType string         `json:"PropertyType"`
	Attributes   []apiAttribute `json:"Attributes"`
}

type apiAttribute struct {
	Name        string `json:"Name"`
	DisplayName string `json:"DisplayName"`
	Value       string `json:"Value"`
}

type apiPhoto struct {
	Key   int64 `json:"Key"`
	Value struct {
		Thumbnail string `json:"Thumbnail"`
		Medium    string `json:"Medium"`
		Large     string `json:"Large"`
		FullSize  string `json:"FullSize"`
	} `json:"Value"`
}

func (p apiPhoto) bestURL() string {
	for _, u := range []string{p.Value.FullSize, p.Value.Large, p.Value.Medium, p.Value.Thumbnail} {
		if u != "" {
			return u
		}
	}
	return ""
}

// apiDate accepts both the legacy "/Date(1700000000000)/" form and RFC 3339.
type apiDate struct {
	time.Time
}

func (d *apiDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := parseAPIDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func parseAPIDate(s string) (time.Time, error) {
	if strings.HasPrefix(s, "/Date(") && strings.HasSuffix(s, ")/") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "/Date("), ")/")
		// Some responses append a zone offset such as "+1300"; the
		// millisecond count is already UTC.
		if len(inner) > 1 {
			if i := strings.IndexAny(inner[1:], "+-"); i >= 0 {
				inner = inner[:i+1]
			}
		}
		ms, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("trademe: bad date %q: %w", s, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("trademe: bad date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// WatchlistPage is one mapped page of the authenticated user's watchlist.
type WatchlistPage struct {
	Listings   []*models.Listing
	TotalCount int
	Page       int
	PageSize   int
	// Filtered counts items dropped for being outside the real-estate
	// category.
	Filtered int
}

// HasMore reports whether another page follows this one.
func (p *WatchlistPage) HasMore() bool {
	if p.PageSize <= 0 {
		return false
	}
	return p.Page*p.PageSize < p.TotalCount
}

// SearchParams narrows a property search.
type SearchParams struct {
	Region      string
	Suburb      string
	PriceMin    int64
	PriceMax    int64
	BedroomsMin int
	Rental      bool
	Page        int
	Rows        int
}

// APIError is the terminal error returned once every attempt at a request
// has failed.
type APIError struct {
	Path       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("trademe: GET %s: status %d after %d attempts: %v", e.Path, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("trademe: GET %s: failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}
