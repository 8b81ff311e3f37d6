package httpretry

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. Missing, malformed or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// RetryAfterFrom extracts the Retry-After hint from headers.
func RetryAfterFrom(headers HeaderSource, now time.Time) time.Duration {
	if headers == nil {
		return 0
	}
	v, ok := headers.Header("Retry-After")
	if !ok {
		return 0
	}
	return ParseRetryAfter(v, now)
}
