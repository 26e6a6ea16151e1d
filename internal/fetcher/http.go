package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/grantscope/advisor/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the first retry delay. Zero uses the resilience default.
	Backoff time.Duration
}

// HTTPFetcher implements Fetcher using net/http with retries on transient
// statuses.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "grantscope-advisor/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Download issues a GET and returns the body of a 2xx response. 429 and 5xx
// responses are retried with backoff.
func (h *HTTPFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = h.opts.MaxRetries
	if h.opts.Backoff > 0 {
		cfg.InitialBackoff = h.opts.Backoff
		cfg.Jitter = 0
	}
	cfg.OnRetry = resilience.LogRetry("http", url)

	return resilience.Retry(ctx, cfg, func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "http: build request")
		}
		req.Header.Set("User-Agent", h.opts.UserAgent)

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "http: get")
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, resilience.MarkTransient(
				eris.New(fmt.Sprintf("http: unexpected status %d for %s", resp.StatusCode, url)),
				resp.StatusCode,
			)
		}
		return resp.Body, nil
	})
}
