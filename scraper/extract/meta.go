package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// openGraphStrategy reads social preview tags.
type openGraphStrategy struct{}

func (openGraphStrategy) Name() string { return "opengraph" }

func (openGraphStrategy) Apply(p *page, r *result) {
	r.setTitle(metaContent(p.doc, "og:title"))
	r.setDescription(metaContent(p.doc, "og:description"))

	images := metaContents(p.doc, "og:image")
	if len(images) > 0 {
		r.setPrimaryImage(images[0])
		r.addImages("opengraph", images...)
	}
	r.setCanonical(metaContent(p.doc, "og:url"))
	r.setAddress(metaContent(p.doc, "og:street-address"))
}

// metaStrategy reads the document title, plain meta tags, Twitter cards and
// link relations.
type metaStrategy struct{}

func (metaStrategy) Name() string { return "meta" }

func (metaStrategy) Apply(p *page, r *result) {
	r.setTitle(metaContent(p.doc, "twitter:title"))
	r.setTitle(p.doc.Find("head title").First().Text())
	r.setDescription(metaContent(p.doc, "description"))
	r.setDescription(metaContent(p.doc, "twitter:description"))
	r.setPrice(parsePrice(metaContent(p.doc, "product:price:amount")))

	if img := metaContent(p.doc, "twitter:image"); img != "" {
		r.setPrimaryImage(img)
		r.addImages("meta", img)
	}
	if href, ok := p.doc.Find(`link[rel="image_src"]`).First().Attr("href"); ok {
		r.setPrimaryImage(href)
		r.addImages("meta", href)
	}
	if href, ok := p.doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		r.setCanonical(href)
	}
}

// metaContent returns the content of the first meta tag whose property or
// name equals key.
func metaContent(doc *goquery.Document, key string) string {
	values := metaContents(doc, key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func metaContents(doc *goquery.Document, key string) []string {
	var out []string
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		name, _ := s.Attr("name")
		if !strings.EqualFold(prop, key) && !strings.EqualFold(name, key) {
			return
		}
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			out = append(out, strings.TrimSpace(content))
		}
	})
	return out
}
