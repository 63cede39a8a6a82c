package extract

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	daysAgoRe  = regexp.MustCompile(`(\d+)\s+days?\s+ago`)
	weeksAgoRe = regexp.MustCompile(`(\d+)\s+weeks?\s+ago`)

	millionsRe    = regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?)\s?(?:m\b|mil|million)`)
	symbolFirstRe = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+|\d{3,})`)
	symbolLastRe  = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d{3,})\s?\$`)
	plainNumberRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)

	trailingIDRe = regexp.MustCompile(`[-_]?\d+$`)
)

// absoluteDateLayouts are tried in order. Layouts without a year resolve to
// the most recent such date not after now.
var absoluteDateLayouts = []struct {
	layout  string
	hasYear bool
}{
	{"2 Jan 2006", true},
	{"2 January 2006", true},
	{"Mon, 2 Jan 2006", true},
	{"Monday, 2 January 2006", true},
	{"02/01/2006", true},
	{"2/1/2006", true},
	{"2006-01-02", true},
	{"Mon, 2 Jan", false},
	{"Mon 2 Jan", false},
	{"Monday, 2 January", false},
	{"2 Jan", false},
	{"2 January", false},
}

// ParseListed interprets a "listed ..." phrase relative to now and returns
// the time the listing went live. ok is false when the phrase cannot be
// understood, which callers must treat as unknown rather than as today.
func ParseListed(s string, now time.Time) (time.Time, bool) {
	s = strings.ToLower(collapseSpace(s))
	s = strings.TrimPrefix(s, "listed")
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), ":"))
	s = strings.TrimSpace(strings.TrimPrefix(s, "on "))
	if s == "" {
		return time.Time{}, false
	}

	switch {
	case strings.HasPrefix(s, "today"), strings.HasPrefix(s, "just now"):
		return now, true
	case strings.HasPrefix(s, "yesterday"):
		return now.AddDate(0, 0, -1), true
	}
	if m := daysAgoRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -n), true
	}
	if m := weeksAgoRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -7*n), true
	}

	s = strings.TrimRight(s, ". ")
	for _, l := range absoluteDateLayouts {
		t, err := time.ParseInLocation(l.layout, s, now.Location())
		if err != nil {
			continue
		}
		if !l.hasYear {
			t = t.AddDate(now.Year(), 0, 0)
			if t.After(now) {
				t = t.AddDate(-1, 0, 0)
			}
		}
		if t.After(now) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// parsePrice reads the first price in s, accepting "$850,000", "850,000$",
// "$1.2m" and a bare number.
func parsePrice(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	if m := millionsRe.FindStringSubmatch(s); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return int64(math.Round(f * 1_000_000))
		}
	}
	for _, re := range []*regexp.Regexp{symbolFirstRe, symbolLastRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			return digitsToInt(m[1])
		}
	}
	if m := plainNumberRe.FindString(s); m != "" {
		return digitsToInt(m)
	}
	return 0
}

// findPrice searches free text and only accepts amounts with a currency
// symbol.
func findPrice(text string) int64 {
	for _, re := range []*regexp.Regexp{symbolFirstRe, symbolLastRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			return digitsToInt(m[1])
		}
	}
	return 0
}

func digitsToInt(s string) int64 {
	v, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseCount(s string) *int {
	m := plainNumberRe.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// TitleFromURL synthesizes a title from the last non-empty path segment:
// a trailing numeric id is removed, separators become spaces and each word
// is capitalised. It returns "" when the path has nothing usable.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	var last string
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			last = seg
			break
		}
	}
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	if i := strings.LastIndex(last, "."); i > 0 {
		last = last[:i]
	}

	last = trailingIDRe.ReplaceAllString(last, "")
	words := strings.FieldsFunc(last, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
