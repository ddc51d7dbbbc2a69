package strategy

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// Staler is told when a platform's login no longer works.
type Staler interface {
	MarkStale()
}

var broadcastActive = []byte(`"broadcast_status":"active"`)

// Instagram checks profile live pages. It needs a logged-in session.
type Instagram struct {
	fetcher Fetcher
	session Staler
}

func NewInstagram(f Fetcher, session Staler) *Instagram {
	return &Instagram{fetcher: f, session: session}
}

func (i *Instagram) Platform() domain.Platform {
	return domain.PlatformInstagram
}

// Check fails with a challenge when Instagram shows the login wall; the
// session is then refreshed before the next sweep.
func (i *Instagram) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	p := i.Platform()
	doc, err := get(ctx, i.fetcher, p, item.Link, nil, true)
	if err != nil {
		return domain.CheckResult{}, err
	}
	d, err := parseHTML(p, doc)
	if err != nil {
		return domain.CheckResult{}, err
	}

	loginWall := d.Find("html.not-logged-in").Length() > 0
	if final, err := url.Parse(doc.URL); err == nil && strings.HasPrefix(final.Path, "/accounts/login") {
		loginWall = true
	}
	if loginWall {
		if i.session != nil {
			i.session.MarkStale()
		}
		return domain.CheckResult{}, domain.Challenge(p, "login wall", nil)
	}

	return domain.CheckResult{
		URL:      item.Link,
		Platform: p,
		IsLive:   bytes.Contains(doc.Body, broadcastActive),
		Title:    metaContent(d, "property", "og:title"),
	}, nil
}
