package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is the persisted form of a cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

func (c Cookie) key() string {
	return c.Domain + "|" + c.Path + "|" + c.Name
}

// jar is a cookiejar.Jar that also remembers what it was given so that the
// cookies can be written back to disk.
type jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	entries map[string]Cookie
	dirty   bool
	now     func() time.Time
}

func newJar(now func() time.Time) *jar {
	return &jar{
		inner:   newInner(),
		entries: make(map[string]Cookie),
		now:     now,
	}
}

func newInner() *cookiejar.Jar {
	// cookiejar.New never returns an error.
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return inner
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	inner := j.inner
	j.mu.Unlock()
	return inner.Cookies(u)
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	now := j.now()
	for _, hc := range cookies {
		c := Cookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   strings.ToLower(hc.Domain),
			Path:     hc.Path,
			Expires:  hc.Expires,
			Secure:   hc.Secure,
			HTTPOnly: hc.HttpOnly,
		}
		if c.Domain == "" {
			c.Domain = u.Hostname()
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if hc.MaxAge > 0 {
			c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
		}

		expired := hc.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now))
		if expired {
			if _, ok := j.entries[c.key()]; ok {
				delete(j.entries, c.key())
				j.dirty = true
			}
			continue
		}
		if old, ok := j.entries[c.key()]; ok && old == c {
			continue
		}
		j.entries[c.key()] = c
		j.dirty = true
	}
}

// replace drops every cookie and loads the given ones.
func (j *jar) replace(cookies []Cookie) {
	j.mu.Lock()
	j.inner = newInner()
	j.entries = make(map[string]Cookie)
	j.mu.Unlock()
	j.load(cookies)
}

// load replays persisted cookies into the jar.
func (j *jar) load(cookies []Cookie) {
	for _, c := range cookies {
		u := &url.URL{
			Scheme: "https",
			Host:   strings.TrimPrefix(c.Domain, "."),
			Path:   c.Path,
		}
		j.SetCookies(u, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}})
	}
	j.mu.Lock()
	j.dirty = false
	j.mu.Unlock()
}

// snapshot returns the live cookies and whether they changed since the
// last snapshot.
func (j *jar) snapshot() ([]Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	out := make([]Cookie, 0, len(j.entries))
	for k, c := range j.entries {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(j.entries, k)
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Cookie) int { return strings.Compare(a.key(), b.key()) })
	dirty := j.dirty
	j.dirty = false
	return out, dirty
}
