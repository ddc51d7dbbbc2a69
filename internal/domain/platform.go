package domain

import (
	"net/url"
	"strings"
)

// Platform tags the streaming service a link points at.
type Platform string

const (
	PlatformYouTube   Platform = "YouTube"
	PlatformTwitch    Platform = "Twitch"
	PlatformFacebook  Platform = "Facebook"
	PlatformPeriscope Platform = "Periscope"
	PlatformInstagram Platform = "Instagram"
)

// Platforms lists every known platform.
var Platforms = []Platform{
	PlatformYouTube,
	PlatformTwitch,
	PlatformFacebook,
	PlatformPeriscope,
	PlatformInstagram,
}

// Slug returns a lowercase file-name-safe form of the tag.
func (p Platform) Slug() string {
	return strings.ToLower(string(p))
}

var platformHosts = map[string]Platform{
	"youtube.com":    PlatformYouTube,
	"m.youtube.com":  PlatformYouTube,
	"youtu.be":       PlatformYouTube,
	"twitch.tv":      PlatformTwitch,
	"m.twitch.tv":    PlatformTwitch,
	"facebook.com":   PlatformFacebook,
	"m.facebook.com": PlatformFacebook,
	"fb.watch":       PlatformFacebook,
	"periscope.tv":   PlatformPeriscope,
	"pscp.tv":        PlatformPeriscope,
	"instagram.com":  PlatformInstagram,
}

// Classify maps a URL to its platform. ok is false for unknown hosts and
// for anything that does not parse as an absolute http(s) URL.
func Classify(rawURL string) (p Platform, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "twitter.com" || host == "x.com" {
		// Periscope broadcasts moved under twitter.com/i/broadcasts.
		if strings.HasPrefix(u.Path, "/i/broadcasts/") {
			return PlatformPeriscope, true
		}
		return "", false
	}
	p, ok = platformHosts[host]
	return p, ok
}
