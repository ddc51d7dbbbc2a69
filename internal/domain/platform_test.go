package domain

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		url    string
		want   Platform
		wantOK bool
	}{
		{"https://www.youtube.com/watch?v=abc123", PlatformYouTube, true},
		{"https://YOUTUBE.com/live/abc123", PlatformYouTube, true},
		{"http://youtu.be/abc123", PlatformYouTube, true},
		{"https://m.youtube.com/watch?v=abc123", PlatformYouTube, true},
		{"https://www.twitch.tv/somechannel", PlatformTwitch, true},
		{"https://m.twitch.tv/somechannel", PlatformTwitch, true},
		{"https://www.facebook.com/page/videos/123", PlatformFacebook, true},
		{"https://fb.watch/abc/", PlatformFacebook, true},
		{"https://www.pscp.tv/w/1abc", PlatformPeriscope, true},
		{"https://periscope.tv/w/1abc", PlatformPeriscope, true},
		{"https://twitter.com/i/broadcasts/1abc", PlatformPeriscope, true},
		{"https://www.instagram.com/someone/live/", PlatformInstagram, true},

		{"https://twitter.com/someone", "", false},
		{"https://notyoutube.com/watch", "", false},
		{"https://vimeo.com/123456", "", false},
		{"youtube.com/watch?v=abc", "", false}, // missing scheme
		{"ftp://youtube.com/watch", "", false},
		{"://bad url", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := Classify(tt.url)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.url, got, ok, tt.want, tt.wantOK)
			}
			again, againOK := Classify(tt.url)
			if again != got || againOK != ok {
				t.Errorf("Classify(%q) not stable across calls", tt.url)
			}
		})
	}
}

func TestPlatform_Slug(t *testing.T) {
	if got := PlatformInstagram.Slug(); got != "instagram" {
		t.Errorf("Slug() = %q, want %q", got, "instagram")
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.twitch.tv/chan", "https://www.twitch.tv/chan"},
		{"  HTTPS://WWW.Twitch.TV/chan/  ", "https://www.twitch.tv/chan"},
		{"https://www.youtube.com/watch?v=abc&utm_source=x&feature=share", "https://www.youtube.com/watch?v=abc"},
		{"https://www.facebook.com/v/1?fbclid=zzz#comments", "https://www.facebook.com/v/1"},
		{"https://example.com/?b=2&a=1", "https://example.com/?a=1&b=2"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Canonicalize(tt.in); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
