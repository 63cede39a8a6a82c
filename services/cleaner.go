package services

import (
	"strings"
	"time"
	"unicode"

	"listingwatch/models"
	"listingwatch/utils"
)

// Cleaner normalizes listings coming out of the marketplace client or the
// page extractor before they reach change detection.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean normalizes text fields, synthesizes missing ids and drops listings
// that cannot be tracked. Later duplicates of an id are skipped.
func (c *Cleaner) Clean(listings []*models.Listing) []*models.Listing {
	seen := make(map[string]struct{})
	result := make([]*models.Listing, 0, len(listings))

	for _, in := range listings {
		if in == nil {
			continue
		}
		l := c.CleanOne(in)

		if l.ID == "" {
			c.logger.Warn("[cleaner] Dropping listing without id or URL: %q", l.Title)
			continue
		}
		if l.Title == "" {
			c.logger.Warn("[cleaner] Dropping listing %s without a title", l.ID)
			continue
		}
		if _, dup := seen[l.ID]; dup {
			c.logger.Debug("[cleaner] Duplicate listing skipped: %s", l.ID)
			continue
		}
		seen[l.ID] = struct{}{}

		result = append(result, l)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(listings), len(result), len(listings)-len(result))
	return result
}

// CleanOne returns a normalized copy of l. It never drops anything.
func (c *Cleaner) CleanOne(in *models.Listing) *models.Listing {
	l := in.Clone()

	l.ID = strings.TrimSpace(l.ID)
	l.SourceURL = strings.TrimSpace(l.SourceURL)
	if l.ID == "" && l.SourceURL != "" {
		l.ID = models.SyntheticID(l.SourceURL)
	}

	l.Title = normaliseText(l.Title)
	l.Address = normaliseText(l.Address)
	l.Area = normaliseText(l.Area)
	l.Description = normaliseParagraphs(l.Description)

	if l.Price < 0 {
		l.Price = 0
	}
	if l.Bedrooms != nil && *l.Bedrooms < 0 {
		l.Bedrooms = nil
	}
	if l.Bathrooms != nil && *l.Bathrooms < 0 {
		l.Bathrooms = nil
	}
	if l.DaysOnMarket < 0 {
		l.DaysOnMarket = 0
	}
	if l.Status == "" {
		l.Status = models.StatusActive
	}
	if l.ListingType == "" {
		l.ListingType = models.ListingForSale
	}

	l.ImageURLs = dedupeURLs(l.ImageURLs)
	l.PrimaryImageURL = strings.TrimSpace(l.PrimaryImageURL)
	if l.PrimaryImageURL == "" && len(l.ImageURLs) > 0 {
		l.PrimaryImageURL = l.ImageURLs[0]
	}
	if l.PrimaryImageURL != "" && len(l.ImageURLs) == 0 {
		l.ImageURLs = []string{l.PrimaryImageURL}
	}

	now := c.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.LastUpdatedAt = now
	return l
}

func dedupeURLs(urls []string) []string {
	set := utils.NewURLSet()
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || !set.Add(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// normaliseParagraphs collapses whitespace inside each line but keeps blank
// line paragraph breaks.
func normaliseParagraphs(s string) string {
	var paras []string
	for _, block := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p := normaliseText(block); p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}
