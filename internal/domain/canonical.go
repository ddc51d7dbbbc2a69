package domain

import (
	"net/url"
	"strings"
)

// trackingParams are stripped before links are compared.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"igshid":       {},
	"si":           {},
	"feature":      {},
}

// Canonicalize returns the form of a link used for identity comparison and
// duplicate detection. Links that do not parse are returned trimmed.
func Canonicalize(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		if _, drop := trackingParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	u.RawPath = ""
	return u.String()
}
