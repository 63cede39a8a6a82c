package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	bedroomsRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:-\s*)?(?:bed(?:room)?s?|br)\b`)
	bathroomsRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:-\s*)?(?:bath(?:room)?s?|ba)\b`)
	addressRe   = regexp.MustCompile(`(?i)Address\s*:\s*(?:</[^>]+>\s*)?(?:<[^>]+>\s*)?([^\n<]{5,120})`)

	excludedImageHints = []string{"icon", "logo", "sprite", "avatar", "favicon", "placeholder", ".svg"}
)

const maxHeuristicImages = 30

// heuristicStrategy scans visible content when nothing structured matched.
type heuristicStrategy struct{}

func (heuristicStrategy) Name() string { return "heuristics" }

func (heuristicStrategy) Apply(p *page, r *result) {
	r.setTitle(p.doc.Find("h1").First().Text())

	text := visibleText(p.doc.Find("body"))

	r.setPrice(findPrice(text))
	if m := bedroomsRe.FindStringSubmatch(text); m != nil {
		r.setBedrooms(parseCount(m[1]))
	}
	if m := bathroomsRe.FindStringSubmatch(text); m != nil {
		r.setBathrooms(parseCount(m[1]))
	}
	if m := addressRe.FindStringSubmatch(p.html); m != nil {
		r.setAddress(stripTags(m[1]))
	}

	var images []string
	p.doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imageSource(s)
		if src == "" || isExcludedImage(src) {
			return true
		}
		images = append(images, src)
		return len(images) < maxHeuristicImages
	})
	if len(images) > 0 {
		r.setPrimaryImage(images[0])
		r.addImages("heuristics", images...)
	}
}

func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v, ok := s.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	return ""
}

func isExcludedImage(src string) bool {
	lower := strings.ToLower(src)
	for _, hint := range excludedImageHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// visibleText joins the text nodes under s with spaces so adjacent elements
// do not run together, skipping script and style content.
func visibleText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
			b.WriteByte(' ')
		case "script", "style", "noscript", "#comment":
		default:
			b.WriteString(visibleText(c))
		}
	})
	return b.String()
}
