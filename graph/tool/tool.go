// Package tool provides the outbound HTTP access used by nodes that pull
// content from the network, such as ImageFromUrl.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher retrieves the body of a URL.
//
// Implementations must honour ctx cancellation and return an *HTTPError for
// non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is a fetched document.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// HTTPError reports a non-success status code.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// ErrTooLarge is returned when a body exceeds the configured limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")
