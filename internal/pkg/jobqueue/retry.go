package jobqueue

import (
	"math"
	"net/http"
	"time"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
)

const minRetryDelay = 60 * time.Second

// IsRetryableResult decides whether an unsent destination result is worth
// another attempt. Unknown failures are retried.
func IsRetryableResult(r *destinations.Result) bool {
	if r == nil || r.Sent {
		return false
	}
	if r.Reason == destinations.ReasonMissingCredentials {
		return false
	}

	switch {
	case r.Code == http.StatusTooManyRequests:
		return true
	case r.Code >= 400 && r.Code < 500:
		return false
	case r.Code >= 500:
		return true
	}

	switch r.Reason {
	case destinations.ReasonHTTP4xx, destinations.ReasonJSONEncodeFailed, destinations.ReasonPersistenceFailed:
		return false
	}
	return true
}

// BackoffDelay is max(60s, 2^(attempt-1) * 60s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		return minRetryDelay
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * minRetryDelay
	if d < minRetryDelay {
		return minRetryDelay
	}
	return d
}

// RetryDelay picks the delay for the next attempt. The largest positive
// Retry-After hint wins, rounded up to whole seconds; otherwise exponential
// backoff applies.
func RetryDelay(nextAttempt int, hints []time.Duration) (time.Duration, string) {
	var longest time.Duration
	for _, h := range hints {
		if h > longest {
			longest = h
		}
	}
	if longest > 0 {
		return time.Duration(math.Ceil(longest.Seconds())) * time.Second, StrategyRetryAfterHeader
	}
	return BackoffDelay(nextAttempt), StrategyExponentialBackoff
}
