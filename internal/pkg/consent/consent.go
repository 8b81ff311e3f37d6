// Package consent decides whether hashed guest data may be attached to
// outbound conversion events. Consent is opt-out: without an explicit
// denial signal user data is sent.
package consent

import (
	"strings"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

// DenialKeys are the payload keys inspected for a consent decision, both at
// the top level and inside a nested "consent" object.
var DenialKeys = []string{
	"marketing_consent",
	"ad_user_data",
	"ad_personalization",
	"consent_marketing",
	"gdpr_consent",
	"user_data_consent",
}

var denialValues = map[string]struct{}{
	"false":    {},
	"0":        {},
	"no":       {},
	"n":        {},
	"off":      {},
	"denied":   {},
	"deny":     {},
	"declined": {},
	"rejected": {},
	"revoked":  {},
}

// Filter may override the decision for a payload. It receives the computed
// decision and returns the final one.
type Filter func(p *payload.BookingPayload, allowed bool) bool

// Policy evaluates consent signals.
type Policy struct {
	Filter Filter
}

// AllowsUserData reports whether hashed guest data may be sent for p.
func (pol Policy) AllowsUserData(p *payload.BookingPayload) bool {
	allowed := p != nil && !Denied(p.Raw())
	if pol.Filter != nil && p != nil {
		return pol.Filter(p, allowed)
	}
	return allowed
}

// Denied reports whether raw carries any denial signal.
func Denied(raw map[string]any) bool {
	if hasDenial(raw) {
		return true
	}
	if nested, ok := raw["consent"].(map[string]any); ok {
		return hasDenial(nested)
	}
	return false
}

func hasDenial(raw map[string]any) bool {
	for _, key := range DenialKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if isDenial(v) {
			return true
		}
	}
	return false
}

func isDenial(v any) bool {
	switch t := v.(type) {
	case bool:
		return !t
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case string:
		_, ok := denialValues[strings.ToLower(strings.TrimSpace(t))]
		return ok
	default:
		return false
	}
}
