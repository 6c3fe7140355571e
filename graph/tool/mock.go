package tool

import (
	"context"
	"net/http"
	"sync"
)

// MockFetcher serves canned bodies keyed by URL. Unknown URLs answer 404.
type MockFetcher struct {
	Bodies map[string][]byte
	Err    error

	mu    sync.Mutex
	calls []string
}

// Fetch implements Fetcher.
func (m *MockFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	body, ok := m.Bodies[url]
	if !ok {
		return nil, &HTTPError{URL: url, StatusCode: http.StatusNotFound}
	}
	return &Response{StatusCode: http.StatusOK, Body: body}, nil
}

// Calls returns the URLs fetched so far.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
