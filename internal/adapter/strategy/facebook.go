package strategy

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// MobileUserAgent is sent to Facebook, whose mobile pages carry the live
// heading without running scripts.
const MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 " +
	"(KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"

var liveHeading = regexp.MustCompile(`(?i)(.*) (is|was) live`)

// Facebook checks video posts on the mobile site.
type Facebook struct {
	fetcher Fetcher
}

func NewFacebook(f Fetcher) *Facebook {
	return &Facebook{fetcher: f}
}

func (f *Facebook) Platform() domain.Platform {
	return domain.PlatformFacebook
}

// Check reads the story heading, which says "<name> is live" while the
// video is running and "<name> was live" afterwards.
func (f *Facebook) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	p := f.Platform()
	info, ok := ParseLink(item.Link, "")
	if !ok {
		return domain.CheckResult{}, domain.Fatal(p, "unsupported link", nil)
	}

	header := http.Header{"User-Agent": {MobileUserAgent}}
	doc, err := get(ctx, f.fetcher, p, mobileURL(item.Link), header, true)
	if err != nil {
		return domain.CheckResult{}, err
	}
	if final, err := url.Parse(doc.URL); err == nil && strings.HasPrefix(final.Path, "/login") {
		return domain.CheckResult{}, domain.Challenge(p, "login wall", nil)
	}
	d, err := parseHTML(p, doc)
	if err != nil {
		return domain.CheckResult{}, err
	}

	result := domain.CheckResult{
		URL:       item.Link,
		Platform:  p,
		EmbedLink: info.Embed,
	}
	d.Find("h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := liveHeading.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if m == nil {
			return true
		}
		result.IsLive = strings.EqualFold(m[2], "is")
		return false
	})
	result.Title = strings.TrimSpace(d.Find(".story_body_container > div > p").First().Text())
	return result, nil
}

// mobileURL points a Facebook link at m.facebook.com.
func mobileURL(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return link
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "facebook.com" {
		u.Host = "m.facebook.com"
	}
	return u.String()
}
