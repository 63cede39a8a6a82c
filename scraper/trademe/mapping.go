package trademe

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"listingwatch/models"
)

const listingWebURL = "https://www.trademe.co.nz/a/listing/"

type attrField int

const (
	fieldBedrooms attrField = iota
	fieldBathrooms
	fieldArea
	fieldPropertyType
	fieldAddress
	fieldStatus
)

type attributeRule struct {
	patterns []string
	field    attrField
}

// attributeRules is evaluated in order against the lower-cased Name and
// DisplayName of every attribute. The first matching rule decides the field.
var attributeRules = []attributeRule{
	{patterns: []string{"bedroom"}, field: fieldBedrooms},
	{patterns: []string{"bathroom"}, field: fieldBathrooms},
	{patterns: []string{"propertytype", "property type"}, field: fieldPropertyType},
	{patterns: []string{"area"}, field: fieldArea},
	{patterns: []string{"location", "address"}, field: fieldAddress},
	{patterns: []string{"status"}, field: fieldStatus},
}

var (
	leadingIntRe   = regexp.MustCompile(`\d+`)
	displayPriceRe = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d+)`)
)

func matchRule(a apiAttribute) (attrField, bool) {
	name := strings.ToLower(a.Name)
	display := strings.ToLower(a.DisplayName)
	for _, r := range attributeRules {
		for _, p := range r.patterns {
			if strings.Contains(name, p) || strings.Contains(display, p) {
				return r.field, true
			}
		}
	}
	return 0, false
}

// mapItem converts an API item into a Listing. Attribute values only fill
// fields that are still unset.
func mapItem(item apiItem, now time.Time) *models.Listing {
	l := &models.Listing{
		ID:          strconv.FormatInt(item.ListingID, 10),
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(item.Body),
		Price:       mapPrice(item),
		Status:      models.StatusActive,
		ListingType: models.ListingForSale,
		Address:     strings.TrimSpace(item.Address),
	}
	if item.ListingID == 0 {
		l.ID = ""
	} else {
		l.SourceURL = listingWebURL + l.ID
	}

	if isRental(item) {
		l.ListingType = models.ListingRental
	}

	for _, a := range item.Attributes {
		field, ok := matchRule(a)
		if !ok {
			continue
		}
		value := strings.TrimSpace(a.Value)
		switch field {
		case fieldBedrooms:
			if l.Bedrooms == nil {
				l.Bedrooms = parseCount(value)
			}
		case fieldBathrooms:
			if l.Bathrooms == nil {
				l.Bathrooms = parseCount(value)
			}
		case fieldArea:
			if l.Area == "" {
				l.Area = value
			}
		case fieldPropertyType:
			if l.PropertyType == "" {
				l.PropertyType = models.ParsePropertyType(value)
			}
		case fieldAddress:
			if l.Address == "" {
				l.Address = value
			}
		case fieldStatus:
			lower := strings.ToLower(value)
			if strings.Contains(lower, "under offer") {
				l.Status = models.StatusUnderOffer
			} else if strings.Contains(lower, "sold") {
				l.Status = models.StatusSold
			}
		}
	}

	if l.Bedrooms == nil && item.Bedrooms > 0 {
		l.Bedrooms = models.IntPtr(item.Bedrooms)
	}
	if l.Bathrooms == nil && item.Bathrooms > 0 {
		l.Bathrooms = models.IntPtr(item.Bathrooms)
	}
	if l.PropertyType == "" && item.PropertyType != "" {
		l.PropertyType = models.ParsePropertyType(item.PropertyType)
	}
	if l.Address == "" {
		l.Address = joinNonEmpty(", ", item.Suburb, item.Region)
	}

	l.PrimaryImageURL = item.PictureHref
	for _, p := range item.Photos {
		if u := p.bestURL(); u != "" {
			l.ImageURLs = append(l.ImageURLs, u)
		}
	}
	if len(l.ImageURLs) == 0 && l.PrimaryImageURL != "" {
		l.ImageURLs = []string{l.PrimaryImageURL}
	}
	if l.PrimaryImageURL == "" && len(l.ImageURLs) > 0 {
		l.PrimaryImageURL = l.ImageURLs[0]
	}

	l.CreatedAt = now
	if !item.StartDate.IsZero() {
		l.CreatedAt = item.StartDate.Time
		l.DaysOnMarket = models.WholeDaysSince(item.StartDate.Time, now)
	}
	l.LastUpdatedAt = now
	return l
}

func mapPrice(item apiItem) int64 {
	if m := displayPriceRe.FindStringSubmatch(item.PriceDisplay); m != nil {
		if v, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
			return v
		}
	}
	if item.BuyNowPrice > 0 {
		return int64(item.BuyNowPrice)
	}
	if item.StartPrice > 0 {
		return int64(item.StartPrice)
	}
	return 0
}

func isRental(item apiItem) bool {
	for _, s := range []string{item.CategoryPath, item.CategoryName} {
		if strings.Contains(strings.ToLower(s), "rent") {
			return true
		}
	}
	return false
}

func parseCount(s string) *int {
	m := leadingIntRe.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
