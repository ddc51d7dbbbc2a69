// Package fetch retrieves documents over HTTP on behalf of a platform
// session.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes limits the size of fetched documents.
const maxBodyBytes = 5 * 1024 * 1024 // 5 MB

// Document is a fetched response.
type Document struct {
	// URL is the final URL after redirects.
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Session supplies the cookie state shared by all requests of a platform.
type Session interface {
	Jar() http.CookieJar
	Save() error
}

// Client fetches documents with a fixed user agent and an optional session.
type Client struct {
	http      *http.Client
	userAgent string
	session   Session
}

// New creates a client. session may be nil for platforms that need no
// cookies.
func New(session Session, userAgent string, timeout time.Duration) *Client {
	hc := &http.Client{Timeout: timeout}
	if session != nil {
		hc.Jar = session.Jar()
	}
	return &Client{
		http:      hc,
		userAgent: userAgent,
		session:   session,
	}
}

// Get fetches rawURL. Any status is returned as a Document; only transport
// failures are errors. header entries override the defaults.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if c.session != nil {
		if err := c.session.Save(); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}

	return &Document{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}
