package service

import (
	"context"
	"io"
	"net/http"
	"time"

	perr "calsieve/internal/platform/errors"
)

// HTTPFetcher implements domain.Fetcher over net/http
type HTTPFetcher struct {
	Client    *http.Client
	MaxBytes  int64
	UserAgent string
}

// NewHTTPFetcher constructs a fetcher with sane limits
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10 MiB
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		MaxBytes:  maxBytes,
		UserAgent: "calsieve/1.0",
	}
}

// Fetch implements domain.Fetcher. Error codes carry retry semantics: 404/410
// and other 4xx map to permanent codes, transport errors and 5xx stay retryable
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", perr.InvalidArgf("bad feed url %q: %v", feedURL, err)
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.5")
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeUnavailable, "fetch %q", feedURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to body read
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", perr.NotFoundf("feed %q returned %d", feedURL, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", perr.InvalidArgf("feed %q returned %d", feedURL, resp.StatusCode)
	default:
		return "", perr.Unavailablef("feed %q returned %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeUnavailable, "read feed %q", feedURL)
	}
	if int64(len(body)) > f.MaxBytes {
		return "", perr.Validationf("feed %q exceeds %d byte limit", feedURL, f.MaxBytes)
	}
	return string(body), nil
}
