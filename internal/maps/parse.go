package maps

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

var (
	coordsRe = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
	ratingRe = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s+stars?`)
	// Display names in aria labels are followed by the rating ("Bank 4.5").
	ratingSuffixes = []string{" 4.", " 3.", " 5."}
)

// BuildSearchURL returns the results URL for keyword centered on at.
func BuildSearchURL(base, keyword string, at crawler.GeoPoint, zoom int, lang string) string {
	u := fmt.Sprintf("%s/search/%s/@%s,%s,%dz",
		strings.TrimRight(base, "/"),
		url.PathEscape(keyword),
		strconv.FormatFloat(at.Lat, 'f', -1, 64),
		strconv.FormatFloat(at.Lng, 'f', -1, 64),
		zoom,
	)
	if lang != "" {
		u += "?hl=" + url.QueryEscape(lang)
	}
	return u
}

// ParseCoordinates extracts the place position embedded in a place link.
func ParseCoordinates(link string) (crawler.GeoPoint, error) {
	m := coordsRe.FindStringSubmatch(link)
	if m == nil {
		return crawler.GeoPoint{}, fmt.Errorf("no coordinates in link: %w", crawler.ErrParse)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return crawler.GeoPoint{}, fmt.Errorf("latitude %q: %w", m[1], crawler.ErrParse)
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return crawler.GeoPoint{}, fmt.Errorf("longitude %q: %w", m[2], crawler.ErrParse)
	}
	return crawler.GeoPoint{Lat: lat, Lng: lng}, nil
}

// StripIcons removes private-use code points, which Maps uses for glyph icons.
func StripIcons(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0xE000 && r <= 0xF8FF {
			return -1
		}
		return r
	}, s)
}

// CleanName derives a display name from a result's aria label, falling back
// to the first line of its text.
func CleanName(aria, text string) string {
	name := aria
	if name != "" {
		name, _, _ = strings.Cut(name, " · ")
		for _, suffix := range ratingSuffixes {
			name, _, _ = strings.Cut(name, suffix)
		}
	}
	if strings.TrimSpace(name) == "" {
		name, _, _ = strings.Cut(strings.TrimSpace(text), "\n")
	}
	return strings.TrimSpace(StripIcons(name))
}

// CleanAddress normalizes the text of the address button. It returns "" when
// nothing usable remains.
func CleanAddress(raw string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(StripIcons(raw), "\n", ", "))
	for _, prefix := range []string{"address:", "adresse:"} {
		if strings.HasPrefix(strings.ToLower(cleaned), prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
		}
	}
	cleaned = strings.TrimLeft(cleaned, ", ")
	if !strings.ContainsFunc(cleaned, isASCIIAlnum) {
		return ""
	}
	return cleaned
}

func isASCIIAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// ParseResults extracts one CandidateRecord per result card of a results page.
// Cards without a link are skipped; a card without coordinates yields a
// candidate with nil Coords.
func ParseResults(html, base string) ([]crawler.CandidateRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	var out []crawler.CandidateRecord
	doc.Find(`div[role="article"]`).Each(func(_ int, card *goquery.Selection) {
		anchor := card.Find("a").First()
		href, _ := anchor.Attr("href")
		href = absolute(strings.TrimSpace(href), base)
		if href == "" {
			return
		}
		aria, _ := anchor.Attr("aria-label")
		candidate := crawler.CandidateRecord{
			Name:     CleanName(aria, firstText(card)),
			Link:     crawler.CanonicalLink(href),
			RawLink:  href,
			Category: category(card),
			Rating:   rating(card),
		}
		if p, err := ParseCoordinates(href); err == nil {
			candidate.Coords = &p
		}
		out = append(out, candidate)
	})
	return out, nil
}

// ParseAddress extracts the cleaned address from a place page.
func ParseAddress(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse place page: %w", err)
	}
	button := doc.Find(`button[data-item-id="address"]`).First()
	if button.Length() == 0 {
		return "", fmt.Errorf("no address button: %w", crawler.ErrParse)
	}
	addr := CleanAddress(lines(button))
	if addr == "" {
		return "", fmt.Errorf("empty address: %w", crawler.ErrParse)
	}
	return addr, nil
}

func absolute(href, base string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// firstText returns the first non-blank text node under sel.
func firstText(sel *goquery.Selection) string {
	var out string
	sel.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" {
			out = strings.TrimSpace(StripIcons(c.Text()))
		} else {
			out = firstText(c)
		}
		return out == ""
	})
	return out
}

// lines joins the non-blank text nodes under sel with newlines, close to what
// a browser reports as innerText for the address button.
func lines(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return strings.Join(parts, "\n")
}

func rating(card *goquery.Selection) *float64 {
	var out *float64
	card.Find(`span[role="img"][aria-label]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		m := ratingRe.FindStringSubmatch(label)
		if m == nil {
			return true
		}
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			return true
		}
		out = &v
		return false
	})
	return out
}

// category reads the first "Category · ..." detail row of a card.
func category(card *goquery.Selection) string {
	var out string
	card.Find(".W4Efsd").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		text := strings.TrimSpace(StripIcons(row.Text()))
		head, _, found := strings.Cut(text, "·")
		head = strings.TrimSpace(head)
		if !found || head == "" || strings.ContainsAny(head[:1], "0123456789(") {
			return true
		}
		out = head
		return false
	})
	return out
}
