// Package llm is the single choke-point for model calls: provider
// client, per-step model selection, deterministic mock mode, and the
// audit trail.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

// Provider turns a request into the first choice's trimmed text.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPError carries the provider's status for retry decisions.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: HTTP %d: %s", e.Status, e.Body)
}

func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	// Network-level failures are worth one more try.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// retryDo runs fn up to three times with short backoff, honoring the
// provider's Retry-After when present.
func retryDo(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			wait := backoff
			var he *HTTPError
			if errors.As(lastErr, &he) && he.RetryAfter > 0 {
				wait = he.RetryAfter
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", lastErr
}
