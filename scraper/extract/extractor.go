// Package extract turns an arbitrary listing page into a partial Listing by
// running an ordered cascade of extraction strategies.
package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listingwatch/models"
	"listingwatch/utils"
)

// Strategy fills whatever listing fields it can find. Strategies run in
// priority order and must only write fields that are still unset.
type Strategy interface {
	Name() string
	Apply(p *page, r *result)
}

// page is the parsed input shared by every strategy.
type page struct {
	rawURL string
	url    *url.URL
	html   string
	doc    *goquery.Document
	now    time.Time
}

// result accumulates the extracted listing plus facts that only the
// post-pass consumes.
type result struct {
	listing   *models.Listing
	canonical string
	listedAt  time.Time
	listedOK  bool
	// imagesOwner is the strategy that supplied ImageURLs; image lists are
	// not merged across strategies.
	imagesOwner string
}

func (r *result) setTitle(v string)       { setString(&r.listing.Title, v) }
func (r *result) setDescription(v string) { setString(&r.listing.Description, v) }
func (r *result) setAddress(v string)     { setString(&r.listing.Address, v) }
func (r *result) setArea(v string)        { setString(&r.listing.Area, v) }
func (r *result) setCanonical(v string)   { setString(&r.canonical, v) }

func (r *result) setPrice(v int64) {
	if r.listing.Price == 0 && v > 0 {
		r.listing.Price = v
	}
}

func (r *result) setBedrooms(v *int) {
	if r.listing.Bedrooms == nil && v != nil {
		r.listing.Bedrooms = v
	}
}

func (r *result) setBathrooms(v *int) {
	if r.listing.Bathrooms == nil && v != nil {
		r.listing.Bathrooms = v
	}
}

func (r *result) setStatus(s models.Status) {
	if r.listing.Status == "" {
		r.listing.Status = s
	}
}

func (r *result) setPropertyType(t models.PropertyType) {
	if r.listing.PropertyType == "" && t != "" && t != models.PropertyOther {
		r.listing.PropertyType = t
	}
}

func (r *result) setListingType(t models.ListingType) {
	if r.listing.ListingType == "" {
		r.listing.ListingType = t
	}
}

func (r *result) setPrimaryImage(v string) { setString(&r.listing.PrimaryImageURL, v) }

// addImages appends image URLs while the listing has none from a higher
// priority strategy.
func (r *result) addImages(owner string, urls ...string) {
	if r.imagesOwner != "" && r.imagesOwner != owner {
		return
	}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			r.listing.ImageURLs = append(r.listing.ImageURLs, u)
			r.imagesOwner = owner
		}
	}
}

func setString(dst *string, v string) {
	v = collapseSpace(v)
	if *dst == "" && v != "" {
		*dst = v
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Extractor runs the strategy cascade.
type Extractor struct {
	strategies []Strategy
	logger     *utils.Logger
	now        func() time.Time
}

// New returns an Extractor using the built-in site rules plus any extra rules.
// Extra rules for a host already known replace the built-in ones.
func New(extra []SiteRule, logger *utils.Logger) *Extractor {
	return NewWithStrategies(logger,
		newSiteStrategy(mergeRules(defaultSiteRules(), extra)),
		jsonLDStrategy{},
		openGraphStrategy{},
		metaStrategy{},
		heuristicStrategy{},
	)
}

// NewWithStrategies builds an Extractor from an explicit cascade.
func NewWithStrategies(logger *utils.Logger, strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies, logger: logger, now: time.Now}
}

// Extract builds a partial listing from html. It never fails; an empty Title
// on the result means nothing usable was found.
func (e *Extractor) Extract(pageURL, html string) *models.Listing {
	now := e.now()
	p := &page{rawURL: pageURL, html: html, now: now}
	if u, err := url.Parse(strings.TrimSpace(pageURL)); err == nil {
		p.url = u
	} else {
		p.url = &url.URL{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn("[extract] Could not parse HTML for %s: %v", pageURL, err)
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}
	p.doc = doc

	r := &result{listing: &models.Listing{SourceURL: pageURL}}
	for _, s := range e.strategies {
		e.apply(s, p, r)
	}

	e.finish(p, r)
	return r.listing
}

func (e *Extractor) apply(s Strategy, p *page, r *result) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("[extract] Strategy %s failed on %s: %v", s.Name(), p.rawURL, rec)
		}
	}()
	s.Apply(p, r)
}

// finish applies defaults and derived fields once every strategy ran.
func (e *Extractor) finish(p *page, r *result) {
	l := r.listing

	if l.Status == "" {
		l.Status = models.StatusActive
	}
	if l.ListingType == "" {
		l.ListingType = models.ListingForSale
	}

	l.PrimaryImageURL = resolveURL(p.url, l.PrimaryImageURL)
	l.ImageURLs = dedupeURLs(p.url, l.ImageURLs)
	if len(l.ImageURLs) == 0 && l.PrimaryImageURL != "" {
		l.ImageURLs = []string{l.PrimaryImageURL}
	}
	if l.PrimaryImageURL == "" && len(l.ImageURLs) > 0 {
		l.PrimaryImageURL = l.ImageURLs[0]
	}

	if l.Title == "" {
		l.Title = TitleFromURL(p.rawURL)
	}

	if l.ID == "" {
		src := p.rawURL
		if r.canonical != "" {
			src = resolveURL(p.url, r.canonical)
		}
		l.ID = models.SyntheticID(src)
	}

	l.CreatedAt = p.now
	l.DaysOnMarket = 0
	if r.listedOK {
		l.CreatedAt = r.listedAt
		l.DaysOnMarket = models.WholeDaysSince(r.listedAt, p.now)
	}
	l.LastUpdatedAt = p.now
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || base.Host == "" {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func dedupeURLs(base *url.URL, urls []string) []string {
	seen := utils.NewURLSet()
	var out []string
	for _, raw := range urls {
		u := resolveURL(base, raw)
		if u != "" && seen.Add(u) {
			out = append(out, u)
		}
	}
	return out
}
