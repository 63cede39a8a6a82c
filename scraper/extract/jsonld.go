package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listingwatch/models"
)

var listingLDTypes = map[string]bool{
	"product":               true,
	"residence":             true,
	"realestatelisting":     true,
	"singlefamilyresidence": true,
	"house":                 true,
	"apartment":             true,
	"accommodation":         true,
}

// jsonLDStrategy reads schema.org structured data blocks.
type jsonLDStrategy struct{}

func (jsonLDStrategy) Name() string { return "jsonld" }

func (jsonLDStrategy) Apply(p *page, r *result) {
	p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return
		}
		for _, node := range ldNodes(data) {
			if isListingNode(node) {
				applyLDNode(node, r)
			}
		}
	})
}

// ldNodes flattens top-level arrays and @graph containers into objects.
func ldNodes(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, ldNodes(item)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{t}
		if g, ok := t["@graph"]; ok {
			out = append(out, ldNodes(g)...)
		}
		return out
	}
	return nil
}

func isListingNode(node map[string]any) bool {
	for _, t := range ldStrings(node["@type"]) {
		if listingLDTypes[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func applyLDNode(node map[string]any, r *result) {
	r.setTitle(ldString(node["name"]))
	r.setDescription(ldString(node["description"]))
	r.setAddress(ldAddress(node["address"]))
	r.setBedrooms(ldCount(node["numberOfBedrooms"]))
	if r.listing.Bedrooms == nil {
		r.setBedrooms(ldCount(node["numberOfRooms"]))
	}
	r.setBathrooms(ldCount(node["numberOfBathroomsTotal"]))
	r.setArea(ldArea(node["floorSize"]))

	for _, t := range ldStrings(node["@type"]) {
		r.setPropertyType(models.ParsePropertyType(t))
	}

	for _, offer := range ldObjects(node["offers"]) {
		r.setPrice(ldPrice(offer["price"]))
		if r.listing.Price == 0 {
			r.setPrice(ldPrice(offer["lowPrice"]))
		}
		avail := strings.ToLower(ldString(offer["availability"]))
		switch {
		case strings.Contains(avail, "soldout"):
			r.setStatus(models.StatusSold)
		case strings.Contains(avail, "discontinued"):
			r.setStatus(models.StatusArchived)
		}
	}

	images := ldImages(node["image"])
	if len(images) > 0 {
		r.setPrimaryImage(images[0])
		r.addImages("jsonld", images...)
	}
	r.setCanonical(ldString(node["url"]))
}

func ldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if s := ldString(t["@value"]); s != "" {
			return s
		}
		return ldString(t["name"])
	case []any:
		if len(t) > 0 {
			return ldString(t[0])
		}
	}
	return ""
}

func ldStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func ldObjects(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func ldPrice(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		return parsePrice(t)
	}
	return 0
}

func ldCount(v any) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case string:
		return parseCount(t)
	case map[string]any:
		return ldCount(t["value"])
	}
	return nil
}

func ldArea(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ldString(v)
	}
	value := ldString(m["value"])
	if value == "" {
		return ""
	}
	if unit := ldString(m["unitText"]); unit != "" {
		return value + " " + unit
	}
	return value
}

func ldAddress(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return joinNonEmpty(", ",
			ldString(t["streetAddress"]),
			ldString(t["addressLocality"]),
			ldString(t["addressRegion"]),
			ldString(t["postalCode"]))
	}
	return ""
}

func ldImages(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		if u := ldString(t["url"]); u != "" {
			return []string{u}
		}
		if u := ldString(t["contentUrl"]); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, ldImages(item)...)
		}
		return out
	}
	return nil
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
