package tool

import (
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// RetryPolicy configures retries of transient fetch failures.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. 1 disables retries.
	MaxAttempts int

	// BaseDelay is doubled after every attempt up to MaxDelay. A zero
	// MaxDelay means no cap.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable reports whether err warrants another attempt. Nil uses
	// DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy makes three attempts starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Validate checks the attempt count and delay bounds.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp RetryPolicy) retryable(err error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(err)
	}
	return DefaultRetryable(err)
}

// DefaultRetryable retries network errors and 429 or 5xx responses.
func DefaultRetryable(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode == http.StatusTooManyRequests || herr.StatusCode >= 500
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// backoff returns min(base*2^attempt, maxDelay) plus up to base of jitter.
func backoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << attempt
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing
	}
	return delay + jitter
}
