package strategy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cwygoda/streamwatch/internal/domain"
)

// LinkInfo is what can be derived from a link without fetching it.
type LinkInfo struct {
	Platform domain.Platform
	// VideoID is set for YouTube links.
	VideoID string
	// Channel is set for Twitch links.
	Channel string
	// Embed is the player URL for the link, if the platform has one.
	Embed string
}

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// ParseLink derives the link info of rawURL. embedParent is the host name
// the Twitch player is embedded on.
func ParseLink(rawURL, embedParent string) (LinkInfo, bool) {
	p, ok := domain.Classify(rawURL)
	if !ok {
		return LinkInfo{}, false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return LinkInfo{}, false
	}

	info := LinkInfo{Platform: p}
	switch p {
	case domain.PlatformYouTube:
		info.VideoID = youtubeVideoID(u)
		if info.VideoID != "" {
			info.Embed = "https://www.youtube.com/embed/" + info.VideoID
		}
	case domain.PlatformTwitch:
		info.Channel = twitchChannel(u)
		if info.Channel != "" {
			q := url.Values{"channel": {info.Channel}}
			if embedParent != "" {
				q.Set("parent", embedParent)
			}
			info.Embed = "https://player.twitch.tv/?" + q.Encode()
		}
	case domain.PlatformFacebook:
		q := url.Values{"href": {rawURL}, "show_text": {"0"}}
		info.Embed = "https://www.facebook.com/plugins/video.php?" + q.Encode()
	}
	return info, true
}

func youtubeVideoID(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segs := pathSegments(u)

	var id string
	switch {
	case host == "youtu.be" && len(segs) > 0:
		id = segs[0]
	case u.Query().Get("v") != "":
		id = u.Query().Get("v")
	case len(segs) > 1 && (segs[0] == "live" || segs[0] == "embed" || segs[0] == "shorts"):
		id = segs[1]
	}
	if !youtubeID.MatchString(id) {
		return ""
	}
	return id
}

// twitchReserved are first path segments that are not channel names.
var twitchReserved = map[string]struct{}{
	"directory": {},
	"videos":    {},
	"settings":  {},
	"p":         {},
	"search":    {},
	"downloads": {},
}

func twitchChannel(u *url.URL) string {
	segs := pathSegments(u)
	if len(segs) == 0 {
		return ""
	}
	name := strings.ToLower(segs[0])
	if _, reserved := twitchReserved[name]; reserved {
		return ""
	}
	return name
}

func pathSegments(u *url.URL) []string {
	var out []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
