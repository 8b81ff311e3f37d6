// Package destinations sends booking conversions to GA4 Measurement Protocol
// and Meta Conversions API and reports normalized results.
package destinations

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/httpretry"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

// Destination names, also used for log channels and counters.
const (
	NameGA4  = "ga4"
	NameMeta = "meta"
)

// Reason explains why a send did not succeed.
type Reason string

const (
	ReasonMissingCredentials Reason = "missing_credentials"
	ReasonJSONEncodeFailed   Reason = "json_encode_failed"
	ReasonHTTP4xx            Reason = "http_4xx"
	ReasonHTTP429            Reason = "http_429"
	ReasonHTTP5xx            Reason = "http_5xx"
	ReasonTransportError     Reason = "transport_error"
	ReasonException          Reason = "exception"
	ReasonPersistenceFailed  Reason = "persistence_failed"
)

// Result is the outcome of one Send. Code is 0 when no HTTP response was
// received. RetryAfter carries the provider hint, if any.
type Result struct {
	Destination string        `json:"destination"`
	Sent        bool          `json:"sent"`
	Reason      Reason        `json:"reason,omitempty"`
	Code        int           `json:"code,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
}

// SendOptions tunes a single Send.
type SendOptions struct {
	// IncludeUserData attaches hashed guest email and phone when true.
	IncludeUserData bool
}

// Service is one outbound destination.
type Service interface {
	Name() string
	Send(ctx context.Context, p *payload.BookingPayload, opts SendOptions) (Result, error)
}

func resultFromHTTP(destination string, r httpretry.Result) Result {
	res := Result{
		Destination: destination,
		Sent:        r.Success,
		Code:        r.Code,
		RetryAfter:  r.RetryAfter,
		Attempts:    r.Attempts,
	}
	if r.Success {
		return res
	}
	if r.Err != nil {
		res.Error = r.Err.Error()
	}

	switch {
	case r.Code == http.StatusTooManyRequests:
		res.Reason = ReasonHTTP429
	case r.Code >= 500:
		res.Reason = ReasonHTTP5xx
	case r.Code >= 400:
		res.Reason = ReasonHTTP4xx
	default:
		res.Reason = ReasonTransportError
	}
	if res.Error == "" && len(r.Body) > 0 {
		res.Error = truncate(string(r.Body), 300)
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
