package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingwatch/models"
	"listingwatch/utils"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestExtractor(extra ...SiteRule) *Extractor {
	e := New(extra, utils.NewNopLogger())
	e.now = func() time.Time { return testNow }
	return e
}

func TestJSONLDBeatsHeading(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"A","offers":{"price":"850000"}}</script>
</head><body><h1>B</h1></body></html>`

	l := newTestExtractor().Extract("https://example.com/listing/x-1", html)
	assert.Equal(t, "A", l.Title)
	assert.Equal(t, int64(850000), l.Price)
}

func TestTitleSynthesizedFromURL(t *testing.T) {
	l := newTestExtractor().Extract("https://example.com/homes/auckland-sunny-villa-4521", "<html><body></body></html>")
	assert.Equal(t, "Auckland Sunny Villa", l.Title)
	assert.Equal(t, models.StatusActive, l.Status)
	assert.Equal(t, 0, l.DaysOnMarket)
	assert.Equal(t, testNow, l.CreatedAt)
	assert.Equal(t, models.SyntheticID("https://example.com/homes/auckland-sunny-villa-4521"), l.ID)
}

func TestTitleFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x.nz/a/auckland-sunny-villa-4521", "Auckland Sunny Villa"},
		{"https://x.nz/a/ponsonby_townhouse/", "Ponsonby Townhouse"},
		{"https://x.nz/listing/4521", ""},
		{"https://x.nz/", ""},
		{"https://x.nz/a/seaside-retreat.html", "Seaside Retreat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TitleFromURL(tt.in), "TitleFromURL(%q)", tt.in)
	}
}

func TestJSONLDGraphAndArrays(t *testing.T) {
	html := `<html><head><script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebPage","name":"Site"},
  {"@type":["RealEstateListing","Apartment"],"name":"Harbour apartment",
   "description":"Views.",
   "image":[{"url":"/img/1.jpg"},"https://cdn.example/2.jpg"],
   "address":{"streetAddress":"1 Quay St","addressLocality":"Auckland"},
   "numberOfBedrooms":2,"numberOfBathroomsTotal":"1",
   "offers":[{"price":1250000.0,"availability":"https://schema.org/InStock"}]}
]}
</script></head><body></body></html>`

	l := newTestExtractor().Extract("https://example.com/p/harbour", html)
	assert.Equal(t, "Harbour apartment", l.Title)
	assert.Equal(t, "Views.", l.Description)
	assert.Equal(t, "1 Quay St, Auckland", l.Address)
	assert.Equal(t, int64(1250000), l.Price)
	assert.Equal(t, models.PropertyApartment, l.PropertyType)
	require.NotNil(t, l.Bedrooms)
	assert.Equal(t, 2, *l.Bedrooms)
	require.NotNil(t, l.Bathrooms)
	assert.Equal(t, 1, *l.Bathrooms)
	assert.Equal(t, []string{"https://example.com/img/1.jpg", "https://cdn.example/2.jpg"}, l.ImageURLs)
	assert.Equal(t, "https://example.com/img/1.jpg", l.PrimaryImageURL)
}

func TestOpenGraphAndMeta(t *testing.T) {
	html := `<html><head>
<title>Page title</title>
<meta property="og:title" content="OG title">
<meta property="og:image" content="https://cdn.example/a.jpg">
<meta property="og:image" content="https://cdn.example/b.jpg">
<meta property="og:url" content="https://example.com/canonical/listing-9">
<meta name="description" content="Meta description">
<meta property="product:price:amount" content="640000">
</head><body><h1>Heading</h1></body></html>`

	l := newTestExtractor().Extract("https://example.com/listing-9?utm_source=mail", html)
	assert.Equal(t, "OG title", l.Title)
	assert.Equal(t, "Meta description", l.Description)
	assert.Equal(t, int64(640000), l.Price)
	assert.Equal(t, []string{"https://cdn.example/a.jpg", "https://cdn.example/b.jpg"}, l.ImageURLs)
	assert.Equal(t, models.SyntheticID("https://example.com/canonical/listing-9"), l.ID)
}

func TestHeuristics(t *testing.T) {
	html := `<html><body>
<h1> Family home in Ponsonby </h1>
<div><span>Price</span><span>850,000$</span></div>
<ul><li>4 bedrooms</li><li>2 bathrooms</li></ul>
<p><strong>Address:</strong> 12 Queen St, Ponsonby</p>
<img src="/static/logo.png"><img src="/photos/1.jpg"><img data-src="/photos/2.jpg" src="data:image/gif;base64,AA">
<img src="/icons/bed.svg">
</body></html>`

	l := newTestExtractor().Extract("https://agent.example/listings/99", html)
	assert.Equal(t, "Family home in Ponsonby", l.Title)
	assert.Equal(t, int64(850000), l.Price)
	require.NotNil(t, l.Bedrooms)
	assert.Equal(t, 4, *l.Bedrooms)
	require.NotNil(t, l.Bathrooms)
	assert.Equal(t, 2, *l.Bathrooms)
	assert.Equal(t, "12 Queen St, Ponsonby", l.Address)
	assert.Equal(t, []string{"https://agent.example/photos/1.jpg", "https://agent.example/photos/2.jpg"}, l.ImageURLs)
	assert.Equal(t, "https://agent.example/photos/1.jpg", l.PrimaryImageURL)
}

func TestSiteRulesTradeMe(t *testing.T) {
	html := `<html><body>
<h1 class="tm-property-listing-body__title">Sunny villa &amp; garden</h1>
<h2 class="tm-property-listing-body__price">Asking price $799,000</h2>
<span class="tm-property-listing-body__location">12 Queen St, Ponsonby</span>
<div>Listed: <span>3 days ago</span></div>
<h1>Other heading</h1>
</body></html>`

	url := "https://www.trademe.co.nz/a/property/residential/sale/auckland/townhouse/listing/4521"
	l := newTestExtractor().Extract(url, html)

	assert.Equal(t, "4521", l.ID)
	assert.Equal(t, "Sunny villa & garden", l.Title)
	assert.Equal(t, int64(799000), l.Price)
	assert.Equal(t, "12 Queen St, Ponsonby", l.Address)
	assert.Equal(t, models.ListingForSale, l.ListingType)
	assert.Equal(t, models.PropertyTownhouse, l.PropertyType)
	assert.Equal(t, 3, l.DaysOnMarket)
	assert.Equal(t, testNow.AddDate(0, 0, -3), l.CreatedAt)
}

func TestRentalInferredFromPath(t *testing.T) {
	l := newTestExtractor().Extract("https://www.realestate.co.nz/4201234/residential/rent/apartment", "<html></html>")
	assert.Equal(t, models.ListingRental, l.ListingType)
	assert.Equal(t, models.PropertyApartment, l.PropertyType)
	assert.Equal(t, "rea-4201234", l.ID)
}

func TestLoadSiteRulesOverridesHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - host: www.homes.example
    id_pattern: '/h/(\d+)'
    id_prefix: 'hx-'
    fields:
      title: '<div class="headline">([^<]+)</div>'
      listed: 'Listed on ([^<]+)<'
`), 0o644))

	rules, err := LoadSiteRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "homes.example", rules[0].Host)

	html := `<div class="headline">Beach bach</div><p>Listed on 2 Mar 2026</p><h1>Ignored</h1>`
	l := newTestExtractor(rules...).Extract("https://www.homes.example/h/77", html)
	assert.Equal(t, "hx-77", l.ID)
	assert.Equal(t, "Beach bach", l.Title)
	assert.Equal(t, 8, l.DaysOnMarket)
}

func TestLoadSiteRulesRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites:\n  - host: a.example\n    fields:\n      title: '('\n"), 0o644))
	_, err := LoadSiteRules(path)
	assert.Error(t, err)
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panics" }

func (panickingStrategy) Apply(_ *page, _ *result) { panic("boom") }

func TestFailingStrategyContributesNothing(t *testing.T) {
	e := NewWithStrategies(utils.NewNopLogger(), panickingStrategy{}, heuristicStrategy{})
	l := e.Extract("https://example.com/x", "<html><body><h1>Still here</h1></body></html>")
	assert.Equal(t, "Still here", l.Title)
}

func TestParseListed(t *testing.T) {
	tests := []struct {
		in       string
		wantDays int
		wantOK   bool
	}{
		{"Listed today", 0, true},
		{"yesterday", 1, true},
		{"Listed: 12 days ago", 12, true},
		{"1 day ago", 1, true},
		{"2 weeks ago", 14, true},
		{"2 Mar 2026", 8, true},
		{"2 March 2026", 8, true},
		{"Mon, 2 Mar", 8, true},
		{"02/03/2026", 8, true},
		{"2026-03-02", 8, true},
		{"Listed on 1 Apr 2026", 0, false},
		{"sometime last spring", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseListed(tt.in, testNow)
		assert.Equal(t, tt.wantOK, ok, "ParseListed(%q) ok", tt.in)
		if ok {
			assert.Equal(t, tt.wantDays, models.WholeDaysSince(got, testNow), "ParseListed(%q) days", tt.in)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"$850,000", 850000},
		{"Asking price $ 1,250,000", 1250000},
		{"850,000$", 850000},
		{"$1.2m", 1200000},
		{"$650 per week", 650},
		{"Price by negotiation", 0},
		{"640000", 640000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parsePrice(tt.in), "parsePrice(%q)", tt.in)
	}
}
