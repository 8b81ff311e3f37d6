package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

func booking(t *testing.T, extra map[string]any) *payload.BookingPayload {
	t.Helper()
	raw := map[string]any{"booking_code": "A", "amount": 1}
	for k, v := range extra {
		raw[k] = v
	}
	p, err := payload.FromMap(raw)
	require.NoError(t, err)
	return p
}

func TestAllowsUserData(t *testing.T) {
	tests := []struct {
		name  string
		extra map[string]any
		want  bool
	}{
		{"no signal", nil, true},
		{"granted", map[string]any{"marketing_consent": true}, true},
		{"granted string", map[string]any{"ad_user_data": "granted"}, true},
		{"denied bool", map[string]any{"marketing_consent": false}, false},
		{"denied zero", map[string]any{"gdpr_consent": 0}, false},
		{"denied string", map[string]any{"ad_user_data": " DENIED "}, false},
		{"denied no", map[string]any{"user_data_consent": "no"}, false},
		{"nested denial", map[string]any{"consent": map[string]any{"ad_personalization": "denied"}}, false},
		{"one denial wins", map[string]any{"marketing_consent": true, "consent_marketing": "0"}, false},
		{"unrelated key", map[string]any{"newsletter": false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Policy{}.AllowsUserData(booking(t, tt.extra)))
		})
	}
}

func TestFilterOverrides(t *testing.T) {
	p := booking(t, map[string]any{"marketing_consent": false})

	pol := Policy{Filter: func(_ *payload.BookingPayload, allowed bool) bool {
		assert.False(t, allowed)
		return true
	}}
	assert.True(t, pol.AllowsUserData(p))
	assert.False(t, Policy{}.AllowsUserData(nil))
}
