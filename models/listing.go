package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// PropertyType classifies the kind of property advertised.
type PropertyType string

const (
	PropertyHouse      PropertyType = "house"
	PropertyApartment  PropertyType = "apartment"
	PropertyTownhouse  PropertyType = "townhouse"
	PropertySection    PropertyType = "section"
	PropertyLifestyle  PropertyType = "lifestyle"
	PropertyCommercial PropertyType = "commercial"
	PropertyOther      PropertyType = "other"
)

// ListingType distinguishes sales from rentals.
type ListingType string

const (
	ListingForSale ListingType = "forSale"
	ListingRental  ListingType = "rental"
)

// Status is the market status of a listing. Archival is a status, listings
// are never deleted.
type Status string

const (
	StatusActive     Status = "active"
	StatusUnderOffer Status = "underOffer"
	StatusSold       Status = "sold"
	StatusArchived   Status = "archived"
)

// Listing is the canonical normalized record for one real-estate advertisement.
// Zero values mean "unknown"; extractors only fill fields that are still zero.
type Listing struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Address         string        `json:"address,omitempty"`
	Price           int64         `json:"price"`
	Bedrooms        *int          `json:"bedrooms,omitempty"`
	Bathrooms       *int          `json:"bathrooms,omitempty"`
	Area            string        `json:"area,omitempty"`
	PropertyType    PropertyType  `json:"propertyType,omitempty"`
	ListingType     ListingType   `json:"listingType,omitempty"`
	Status          Status        `json:"status,omitempty"`
	DaysOnMarket    int           `json:"daysOnMarket"`
	Description     string        `json:"description,omitempty"`
	PrimaryImageURL string        `json:"primaryImageUrl,omitempty"`
	ImageURLs       []string      `json:"imageUrls,omitempty"`
	Images          []ImageRecord `json:"images,omitempty"`
	SourceURL       string        `json:"sourceUrl"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastUpdatedAt   time.Time     `json:"lastUpdatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing slices.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.Bedrooms != nil {
		v := *l.Bedrooms
		c.Bedrooms = &v
	}
	if l.Bathrooms != nil {
		v := *l.Bathrooms
		c.Bathrooms = &v
	}
	c.ImageURLs = append([]string(nil), l.ImageURLs...)
	c.Images = append([]ImageRecord(nil), l.Images...)
	return &c
}

// ImageCount is the number of images referenced by the listing.
func (l *Listing) ImageCount() int {
	if len(l.ImageURLs) > 0 {
		return len(l.ImageURLs)
	}
	return len(l.Images)
}

// IntPtr is a small helper for the optional count fields.
func IntPtr(v int) *int { return &v }

// SyntheticID derives a stable listing id from a URL when the source has none.
// Query strings and fragments are ignored so tracking parameters do not
// produce new identities.
func SyntheticID(rawURL string) string {
	key := strings.TrimSpace(rawURL)
	if u, err := url.Parse(key); err == nil && u.Host != "" {
		key = strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
	}
	sum := sha256.Sum256([]byte(key))
	return "url-" + hex.EncodeToString(sum[:])[:16]
}

// ParsePropertyType maps free text ("Townhouse", "Residential Section",
// "/apartment/") onto a PropertyType. Unrecognised text yields PropertyOther.
func ParsePropertyType(s string) PropertyType {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	if len(words) == 0 {
		return ""
	}
	has := make(map[string]bool, len(words))
	for _, w := range words {
		has[w] = true
	}

	switch {
	case has["apartment"], has["apartments"], has["unit"], has["flat"]:
		return PropertyApartment
	case has["townhouse"], has["townhouses"], has["town"] && has["house"]:
		return PropertyTownhouse
	case has["lifestyle"]:
		return PropertyLifestyle
	case has["section"], has["sections"], has["land"]:
		return PropertySection
	case has["commercial"], has["office"], has["retail"], has["industrial"]:
		return PropertyCommercial
	case has["house"], has["houses"], has["home"], has["villa"], has["bungalow"], has["residential"]:
		return PropertyHouse
	default:
		return PropertyOther
	}
}

// ParseStatus maps free text onto a Status. ok is false when nothing matched.
func ParseStatus(s string) (Status, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "under offer"), strings.Contains(s, "underoffer"), strings.Contains(s, "under contract"):
		return StatusUnderOffer, true
	case strings.Contains(s, "sold"):
		return StatusSold, true
	case strings.Contains(s, "archived"), strings.Contains(s, "withdrawn"), strings.Contains(s, "closed"):
		return StatusArchived, true
	case strings.Contains(s, "active"), strings.Contains(s, "for sale"), strings.Contains(s, "available"):
		return StatusActive, true
	default:
		return "", false
	}
}

// WholeDaysSince returns the number of complete days between t and now,
// never negative.
func WholeDaysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}
