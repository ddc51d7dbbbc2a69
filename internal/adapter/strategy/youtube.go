package strategy

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// DefaultYouTubeAPI is the YouTube Data API v3 base URL.
const DefaultYouTubeAPI = "https://www.googleapis.com/youtube/v3"

// YouTube checks videos through the Data API.
type YouTube struct {
	fetcher Fetcher
	apiKey  string
	apiBase string
}

// NewYouTube creates a YouTube strategy. An empty apiBase selects
// DefaultYouTubeAPI.
func NewYouTube(f Fetcher, apiKey, apiBase string) *YouTube {
	if apiBase == "" {
		apiBase = DefaultYouTubeAPI
	}
	return &YouTube{
		fetcher: f,
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

func (y *YouTube) Platform() domain.Platform {
	return domain.PlatformYouTube
}

type youtubeVideos struct {
	Items []struct {
		Snippet struct {
			Title                string `json:"title"`
			LiveBroadcastContent string `json:"liveBroadcastContent"`
		} `json:"snippet"`
	} `json:"items"`
}

type youtubeError struct {
	Error struct {
		Code   int `json:"code"`
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Check looks the video up and reports it live when its broadcast content
// is "live". A video the API does not return is offline.
func (y *YouTube) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	p := y.Platform()
	info, ok := ParseLink(item.Link, "")
	if !ok || info.VideoID == "" {
		return domain.CheckResult{}, domain.Fatal(p, "no video id in link", nil)
	}

	q := url.Values{
		"id":   {info.VideoID},
		"key":  {y.apiKey},
		"part": {"snippet"},
	}
	doc, err := y.fetcher.Get(ctx, y.apiBase+"/videos?"+q.Encode(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return domain.CheckResult{}, ctx.Err()
		}
		return domain.CheckResult{}, domain.Retryable(p, "fetch", err)
	}
	if doc.Status != 200 {
		return domain.CheckResult{}, y.apiError(doc.Status, doc.Body)
	}

	var videos youtubeVideos
	if err := json.Unmarshal(doc.Body, &videos); err != nil {
		return domain.CheckResult{}, domain.Retryable(p, "decode response", err)
	}

	result := domain.CheckResult{
		URL:       item.Link,
		Platform:  p,
		EmbedLink: info.Embed,
	}
	if len(videos.Items) > 0 {
		snippet := videos.Items[0].Snippet
		result.IsLive = snippet.LiveBroadcastContent == "live"
		result.Title = snippet.Title
	}
	return result, nil
}

// apiError maps API failures. Quota errors come back as 403 and are a
// throttle, not a credentials problem.
func (y *YouTube) apiError(status int, body []byte) error {
	p := y.Platform()
	var apiErr youtubeError
	_ = json.Unmarshal(body, &apiErr)
	for _, e := range apiErr.Error.Errors {
		switch e.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return domain.RateLimit(p, e.Reason, nil)
		case "keyInvalid", "keyExpired", "accessNotConfigured", "forbidden":
			return domain.Fatal(p, e.Reason, nil)
		}
	}
	return statusError(p, status, false)
}
