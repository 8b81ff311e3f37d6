package httpretry

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type getterOnly struct{ values map[string]string }

func (g getterOnly) Get(name string) string { return g.values[name] }

func TestHeadersFromProbesShape(t *testing.T) {
	httpHeader := http.Header{}
	httpHeader.Set("Retry-After", "5")

	tests := []struct {
		name   string
		source any
		want   string
		ok     bool
	}{
		{"flat map", map[string]string{"RETRY-AFTER": "5"}, "5", true},
		{"list map", map[string][]string{"retry-after": {"5", "9"}}, "5", true},
		{"any map", map[string]any{"Retry-After": []string{"5"}}, "5", true},
		{"http header", httpHeader, "5", true},
		{"getter", getterOnly{values: map[string]string{"Retry-After": "5"}}, "5", true},
		{"raw blob", "HTTP/1.1 429\r\nretry-after: 5\r\n", "5", true},
		{"raw bytes", []byte("Retry-After:5"), "5", true},
		{"nil", nil, "", false},
		{"unsupported", 42, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HeadersFrom(tt.source).Header("retry-after")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("0", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
