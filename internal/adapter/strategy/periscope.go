package strategy

import (
	"context"
	"strings"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// Periscope checks broadcasts by their twitter card metadata.
type Periscope struct {
	fetcher Fetcher
}

func NewPeriscope(f Fetcher) *Periscope {
	return &Periscope{fetcher: f}
}

func (p *Periscope) Platform() domain.Platform {
	return domain.PlatformPeriscope
}

// Check reports the broadcast live while its broadcast state is RUNNING.
func (p *Periscope) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	doc, err := get(ctx, p.fetcher, p.Platform(), item.Link, nil, true)
	if err != nil {
		return domain.CheckResult{}, err
	}
	d, err := parseHTML(p.Platform(), doc)
	if err != nil {
		return domain.CheckResult{}, err
	}

	state := metaContent(d, "name", "twitter:text:broadcast_state")
	return domain.CheckResult{
		URL:      item.Link,
		Platform: p.Platform(),
		IsLive:   strings.EqualFold(state, "RUNNING"),
		Title:    strings.TrimSpace(d.Find("title").First().Text()),
	}, nil
}
