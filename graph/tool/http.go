package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// DefaultMaxBytes bounds a fetched body.
const DefaultMaxBytes = 64 << 20

// HTTPFetcher fetches URLs over HTTP with retries.
//
//	f := tool.NewHTTPFetcher(tool.WithTimeout(10 * time.Second))
//	resp, err := f.Fetch(ctx, "https://example.com/image.png")
type HTTPFetcher struct {
	client   *http.Client
	retry    RetryPolicy
	maxBytes int64
	logger   *slog.Logger
	rng      *rand.Rand
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) { f.client = &http.Client{Timeout: d} }
}

// WithRetryPolicy replaces the retry policy. Invalid policies are ignored.
func WithRetryPolicy(rp RetryPolicy) FetcherOption {
	return func(f *HTTPFetcher) {
		if rp.Validate() == nil {
			f.retry = rp
		}
	}
}

// WithMaxBytes bounds the body size.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithFetchLogger sets the logger for retry messages.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSeed makes retry jitter deterministic.
func WithSeed(seed int64) FetcherOption {
	return func(f *HTTPFetcher) { f.rng = rand.New(rand.NewSource(seed)) } // #nosec G404 -- retry timing
}

// NewHTTPFetcher returns a fetcher with a 30s timeout and DefaultRetryPolicy.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		retry:    DefaultRetryPolicy(),
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < f.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt-1, f.retry.BaseDelay, f.retry.MaxDelay, f.rng)
			f.logger.Debug("retrying fetch", "url", url, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := f.once(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrTooLarge) || !f.retry.retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) once(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("GET %s: %w (%d bytes)", url, ErrTooLarge, f.maxBytes)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
