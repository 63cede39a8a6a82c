package extract

import (
	"errors"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"listingwatch/models"
)

// SiteRule holds per-marketplace regular expressions. Each field pattern
// must have one capture group and is matched against the raw HTML.
type SiteRule struct {
	Host      string            `yaml:"host"`
	IDPattern string            `yaml:"id_pattern"`
	IDPrefix  string            `yaml:"id_prefix"`
	Fields    map[string]string `yaml:"fields"`

	idRe     *regexp.Regexp
	fieldRes map[string]*regexp.Regexp
}

type siteRulesFile struct {
	Sites []SiteRule `yaml:"sites"`
}

// LoadSiteRules reads extra site rules from a YAML file of the form
//
//	sites:
//	  - host: example.co.nz
//	    id_pattern: '/listing/(\d+)'
//	    fields:
//	      title: '<h1[^>]*>([^<]+)</h1>'
func LoadSiteRules(path string) ([]SiteRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("site rules: read %s: %w", path, err)
	}
	var f siteRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("site rules: parse %s: %w", path, err)
	}
	for i := range f.Sites {
		if err := f.Sites[i].compile(); err != nil {
			return nil, fmt.Errorf("site rules: %s: %w", path, err)
		}
	}
	return f.Sites, nil
}

func (s *SiteRule) compile() error {
	if s.Host == "" {
		return errors.New("rule without host")
	}
	s.Host = strings.ToLower(strings.TrimPrefix(s.Host, "www."))
	if s.IDPattern != "" {
		re, err := regexp.Compile(s.IDPattern)
		if err != nil {
			return fmt.Errorf("%s id_pattern: %w", s.Host, err)
		}
		s.idRe = re
	}
	s.fieldRes = make(map[string]*regexp.Regexp, len(s.Fields))
	for name, pattern := range s.Fields {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%s field %s: %w", s.Host, name, err)
		}
		s.fieldRes[strings.ToLower(name)] = re
	}
	return nil
}

func (s *SiteRule) matches(host string) bool {
	host = strings.ToLower(host)
	return host == s.Host || strings.HasSuffix(host, "."+s.Host)
}

func defaultSiteRules() []SiteRule {
	rules := []SiteRule{
		{
			Host:      "trademe.co.nz",
			IDPattern: `/listing/(\d+)`,
			Fields: map[string]string{
				"title":       `(?s)<h1[^>]*class="[^"]*tm-property-listing-body__title[^"]*"[^>]*>(.*?)</h1>`,
				"price":       `(?s)class="[^"]*tm-property-listing-body__price[^"]*"[^>]*>(.*?)</`,
				"address":     `(?s)class="[^"]*tm-property-listing-body__location[^"]*"[^>]*>(.*?)</`,
				"bedrooms":    `(?i)tm-property-listing-attribute-tag__bedroom[^>]*>\D*(\d+)`,
				"bathrooms":   `(?i)tm-property-listing-attribute-tag__bathroom[^>]*>\D*(\d+)`,
				"area":        `(?i)Floor area\s*</[^>]+>\s*<[^>]+>([^<]+)<`,
				"description": `(?s)class="[^"]*tm-markdown[^"]*"[^>]*>(.*?)</div>`,
				"listed":      `(?i)Listed:?\s*(?:</?[^>]+>\s*)*([^<]+?)\s*<`,
				"status":      `(?i)class="[^"]*tm-property-listing-body__status[^"]*"[^>]*>([^<]+)<`,
			},
		},
		{
			Host:      "realestate.co.nz",
			IDPattern: `/(\d{6,})(?:/|$|\?)`,
			IDPrefix:  "rea-",
			Fields: map[string]string{
				"title":        `(?s)<h1[^>]*data-test="listing-title"[^>]*>(.*?)</h1>`,
				"price":        `(?s)data-test="price-display"[^>]*>(.*?)</`,
				"address":      `(?s)data-test="listing-address"[^>]*>(.*?)</`,
				"bedrooms":     `data-test="bedroom-count"[^>]*>\s*(\d+)`,
				"bathrooms":    `data-test="bathroom-count"[^>]*>\s*(\d+)`,
				"area":         `data-test="floor-area"[^>]*>([^<]+)<`,
				"propertytype": `data-test="property-type"[^>]*>([^<]+)<`,
				"listed":       `(?i)Listed\s+([^<]+?)\s*<`,
				"status":       `data-test="listing-status"[^>]*>([^<]+)<`,
			},
		},
	}
	for i := range rules {
		if err := rules[i].compile(); err != nil {
			panic(err)
		}
	}
	return rules
}

// mergeRules returns base with every rule in extra either replacing the base
// rule for the same host or appended.
func mergeRules(base, extra []SiteRule) []SiteRule {
	out := append([]SiteRule(nil), base...)
	for _, e := range extra {
		if e.fieldRes == nil {
			if err := e.compile(); err != nil {
				continue
			}
		}
		replaced := false
		for i := range out {
			if out[i].Host == e.Host {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

type siteStrategy struct {
	rules []SiteRule
}

func newSiteStrategy(rules []SiteRule) *siteStrategy {
	return &siteStrategy{rules: rules}
}

func (s *siteStrategy) Name() string { return "site" }

func (s *siteStrategy) Apply(p *page, r *result) {
	inferFromPath(p.url.Path, r)

	rule := s.ruleFor(p.url.Hostname())
	if rule == nil {
		return
	}

	if rule.idRe != nil && r.listing.ID == "" {
		if m := rule.idRe.FindStringSubmatch(p.url.Path); len(m) > 1 {
			r.listing.ID = rule.IDPrefix + m[1]
		}
	}

	field := func(name string) string {
		re := rule.fieldRes[name]
		if re == nil {
			return ""
		}
		m := re.FindStringSubmatch(p.html)
		if len(m) < 2 {
			return ""
		}
		return stripTags(m[1])
	}

	r.setTitle(field("title"))
	r.setPrice(parsePrice(field("price")))
	r.setAddress(field("address"))
	r.setBedrooms(parseCount(field("bedrooms")))
	r.setBathrooms(parseCount(field("bathrooms")))
	r.setArea(field("area"))
	r.setDescription(field("description"))
	r.setPropertyType(models.ParsePropertyType(field("propertytype")))
	if st, ok := models.ParseStatus(field("status")); ok {
		r.setStatus(st)
	}
	if listed := field("listed"); listed != "" && !r.listedOK {
		if t, ok := ParseListed(listed, p.now); ok {
			r.listedAt, r.listedOK = t, true
		}
	}
}

func (s *siteStrategy) ruleFor(host string) *SiteRule {
	for i := range s.rules {
		if s.rules[i].matches(host) {
			return &s.rules[i]
		}
	}
	return nil
}

// inferFromPath reads listing and property type hints from URL path words
// such as /property/residential/rent/apartment/.
func inferFromPath(path string, r *result) {
	words := strings.FieldsFunc(strings.ToLower(path), func(c rune) bool {
		return (c < 'a' || c > 'z') && (c < '0' || c > '9')
	})
	kept := words[:0:0]
	for _, w := range words {
		switch w {
		case "rent", "rental", "rentals", "lease":
			r.setListingType(models.ListingRental)
		case "sale", "buy":
			r.setListingType(models.ListingForSale)
		case "residential":
			// category name on most portals, not a property type
		default:
			kept = append(kept, w)
		}
	}
	r.setPropertyType(models.ParsePropertyType(strings.Join(kept, " ")))
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return collapseSpace(html.UnescapeString(s))
}
