// Package sync pulls the spreadsheet export and reconciles it into the
// applications table.
package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"admissions-workers/internal/common/errors"
	apphttp "admissions-workers/internal/common/http"
)

// Fetcher returns the current feed text.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// maxFeedBytes bounds a single export download.
const maxFeedBytes = 32 << 20

// HTTPFetcher downloads the published CSV export.
type HTTPFetcher struct {
	url    string
	client *apphttp.Client
	limit  int64
}

func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{url: url, client: apphttp.NewClient(timeout), limit: maxFeedBytes}
}

// Fetch maps 429 to RateLimited and every other failure to TransportError. A
// body over the size limit fails the pull rather than yielding a partial feed.
func (f *HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	resp, err := f.client.Get(ctx, f.url)
	if err != nil {
		return "", errors.NewTransportError("feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", errors.NewRateLimitedError("feed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewTransportError("feed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return "", errors.NewTransportError("feed", err)
	}
	if int64(len(body)) > f.limit {
		return "", errors.NewTransportError("feed", fmt.Errorf("export exceeds %d bytes", f.limit))
	}
	return string(body), nil
}
