package crawler

import (
	"net/url"
	"strings"
)

// CanonicalLink strips the query string and fragment from a place link so the
// same entity found from different cells or keywords maps to one dedup key.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// WithLanguage appends an hl parameter to a link, preserving an existing query.
func WithLanguage(link, lang string) string {
	if lang == "" {
		return link
	}
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "hl=" + url.QueryEscape(lang)
}
