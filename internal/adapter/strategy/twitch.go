package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// DefaultHelixAPI is the Twitch Helix API base URL.
const DefaultHelixAPI = "https://api.twitch.tv/helix"

// TwitchConfig configures the Twitch strategy. Without ClientID and Token
// the channel page is scraped instead of asking the Helix API.
type TwitchConfig struct {
	ClientID    string
	Token       string
	APIBase     string
	EmbedParent string
}

// Twitch checks channels through Helix or the channel page.
type Twitch struct {
	fetcher Fetcher
	cfg     TwitchConfig
}

// NewTwitch creates a Twitch strategy.
func NewTwitch(f Fetcher, cfg TwitchConfig) *Twitch {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultHelixAPI
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Twitch{fetcher: f, cfg: cfg}
}

func (t *Twitch) Platform() domain.Platform {
	return domain.PlatformTwitch
}

func (t *Twitch) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	info, ok := ParseLink(item.Link, t.cfg.EmbedParent)
	if !ok || info.Channel == "" {
		return domain.CheckResult{}, domain.Fatal(t.Platform(), "no channel in link", nil)
	}

	var (
		live  bool
		title string
		err   error
	)
	if t.cfg.ClientID != "" && t.cfg.Token != "" {
		live, title, err = t.checkHelix(ctx, info.Channel)
	} else {
		live, title, err = t.checkPage(ctx, item.Link)
	}
	if err != nil {
		return domain.CheckResult{}, err
	}
	return domain.CheckResult{
		URL:       item.Link,
		Platform:  t.Platform(),
		IsLive:    live,
		Title:     title,
		EmbedLink: info.Embed,
	}, nil
}

type helixStreams struct {
	Data []struct {
		Type  string `json:"type"`
		Title string `json:"title"`
	} `json:"data"`
}

func (t *Twitch) checkHelix(ctx context.Context, channel string) (bool, string, error) {
	header := http.Header{
		"Client-Id":     {t.cfg.ClientID},
		"Authorization": {"Bearer " + t.cfg.Token},
	}
	q := url.Values{"user_login": {channel}}
	doc, err := get(ctx, t.fetcher, t.Platform(), t.cfg.APIBase+"/streams?"+q.Encode(), header, false)
	if err != nil {
		return false, "", err
	}

	var streams helixStreams
	if err := json.Unmarshal(doc.Body, &streams); err != nil {
		return false, "", domain.Retryable(t.Platform(), "decode response", err)
	}
	for _, s := range streams.Data {
		if s.Type == "live" {
			return true, s.Title, nil
		}
	}
	return false, "", nil
}

// checkPage reads the schema.org metadata Twitch embeds in channel pages.
func (t *Twitch) checkPage(ctx context.Context, link string) (bool, string, error) {
	doc, err := get(ctx, t.fetcher, t.Platform(), link, nil, true)
	if err != nil {
		return false, "", err
	}
	d, err := parseHTML(t.Platform(), doc)
	if err != nil {
		return false, "", err
	}

	live := false
	d.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		live = ldLive([]byte(s.Text()))
		return !live
	})
	if !live {
		return false, "", nil
	}
	return true, metaContent(d, "property", "og:description"), nil
}

type ldVideo struct {
	Publication json.RawMessage `json:"publication"`
}

type ldPublication struct {
	IsLiveBroadcast bool `json:"isLiveBroadcast"`
}

// ldLive reports whether a JSON-LD block describes a running broadcast.
// Blocks may be a single object or a list.
func ldLive(raw []byte) bool {
	var list []ldVideo
	if err := json.Unmarshal(raw, &list); err != nil {
		var one ldVideo
		if err := json.Unmarshal(raw, &one); err != nil {
			return false
		}
		list = []ldVideo{one}
	}
	for _, v := range list {
		if len(v.Publication) == 0 {
			continue
		}
		var pubs []ldPublication
		if err := json.Unmarshal(v.Publication, &pubs); err != nil {
			var pub ldPublication
			if err := json.Unmarshal(v.Publication, &pub); err != nil {
				continue
			}
			pubs = []ldPublication{pub}
		}
		for _, pub := range pubs {
			if pub.IsLiveBroadcast {
				return true
			}
		}
	}
	return false
}
