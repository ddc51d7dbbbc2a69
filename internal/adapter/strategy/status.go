package strategy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwygoda/streamwatch/internal/adapter/fetch"
	"github.com/cwygoda/streamwatch/internal/domain"
)

// Fetcher retrieves a document. Non-2xx statuses are not errors.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*fetch.Document, error)
}

// get fetches rawURL and classifies transport and status failures.
// Scraped pages answer a blocked client with 401/403, which counts as a
// challenge; APIs use those codes for bad credentials.
func get(ctx context.Context, f Fetcher, p domain.Platform, rawURL string, header http.Header, scrape bool) (*fetch.Document, error) {
	doc, err := f.Get(ctx, rawURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Retryable(p, "fetch", err)
	}
	if err := statusError(p, doc.Status, scrape); err != nil {
		return nil, err
	}
	return doc, nil
}

func statusError(p domain.Platform, status int, scrape bool) error {
	msg := fmt.Sprintf("http status %d", status)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return domain.RateLimit(p, msg, nil)
	case status == http.StatusNotFound || status == http.StatusGone:
		return domain.Fatal(p, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if scrape {
			return domain.Challenge(p, msg, nil)
		}
		return domain.Fatal(p, msg, nil)
	default:
		return domain.Retryable(p, msg, nil)
	}
}

func parseHTML(p domain.Platform, doc *fetch.Document) (*goquery.Document, error) {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, domain.Retryable(p, "parse page", err)
	}
	return d, nil
}

func metaContent(d *goquery.Document, attr, name string) string {
	v, _ := d.Find(fmt.Sprintf(`meta[%s=%q]`, attr, name)).First().Attr("content")
	return v
}
