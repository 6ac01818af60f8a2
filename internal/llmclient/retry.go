package llmclient

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMaxRetries and DefaultRetryBase match timeout table for
// LLM calls: exponential backoff 2^n * 1s, up to 3 retries.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = time.Second
)

// withRetry runs attempt up to maxRetries+1 times, backing off
// exponentially between attempts, stopping early on a non-retryable error
// or context cancellation. The call function itself decides retryability.
func withRetry(ctx context.Context, maxRetries int, base time.Duration, isRetryable func(error) bool, attempt func(ctx context.Context) (*ChatResponse, error)) (*ChatResponse, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if base <= 0 {
		base = DefaultRetryBase
	}

	var lastErr error
	for n := 0; n <= maxRetries; n++ {
		resp, err := attempt(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		if !isRetryable(err) || n == maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(n))) * base
		select {
		case <-ctx.Done():
			return nil, ErrAborted
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("llm call failed after retries: %w", lastErr)
}

// isRetryableMessage classifies an error by substring match against the
// provider-agnostic set of transient failure signatures: rate limiting,
// 5xx server errors, timeouts, and connection resets.
func isRetryableMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
