package destinations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/hasher"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/httpretry"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

type capturedRequest struct {
	Path  string
	Query map[string][]string
	Body  map[string]any
}

func newServer(t *testing.T, codes []int, headers map[string]string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		seen = append(seen, capturedRequest{Path: r.URL.Path, Query: r.URL.Query(), Body: body})
		n := len(seen)
		mu.Unlock()

		code := codes[len(codes)-1]
		if n <= len(codes) {
			code = codes[n-1]
		}
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testClient() *httpretry.Client {
	c := httpretry.NewClient(2 * time.Second)
	c.Sleeper = httpretry.SleeperFunc(func(context.Context, time.Duration) error { return nil })
	return c
}

func testPayload(t *testing.T, extra map[string]any) *payload.BookingPayload {
	t.Helper()
	raw := map[string]any{
		"booking_code": "ABC123",
		"amount":       100,
		"currency":     "eur",
		"guest_email":  "X@Y.COM",
		"event_time":   "2025-06-01T10:00:00Z",
	}
	for k, v := range extra {
		raw[k] = v
	}
	p, err := payload.FromMap(raw)
	require.NoError(t, err)
	return p
}

func TestGA4SendSuccess(t *testing.T) {
	srv, seen := newServer(t, []int{http.StatusNoContent}, nil)
	svc := NewGA4Service(GA4Config{MeasurementID: "G-1", APISecret: "sec", Endpoint: srv.URL + "/mp/collect"}, testClient())

	res, err := svc.Send(context.Background(), testPayload(t, map[string]any{"gclid": "g-1"}), SendOptions{IncludeUserData: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, NameGA4, res.Destination)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "/mp/collect", req.Path)
	assert.Equal(t, []string{"G-1"}, req.Query["measurement_id"])
	assert.Equal(t, []string{"sec"}, req.Query["api_secret"])

	events := req.Body["events"].([]any)
	event := events[0].(map[string]any)
	assert.Equal(t, "purchase", event["name"])
	params := event["params"].(map[string]any)
	assert.Equal(t, "EUR", params["currency"])
	assert.Equal(t, 100.0, params["value"])
	assert.Equal(t, "ABC123", params["transaction_id"])
	assert.Equal(t, "gads", params["bucket"])
	assert.Equal(t, float64(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).UnixMicro()), req.Body["timestamp_micros"])
	assert.NotEmpty(t, req.Body["client_id"])

	userData := req.Body["user_data"].(map[string]any)
	assert.Equal(t, []any{hasher.SHA256("x@y.com")}, userData["sha256_email_address"])
}

func TestGA4OmitsUserDataWithoutConsent(t *testing.T) {
	srv, seen := newServer(t, []int{http.StatusOK}, nil)
	svc := NewGA4Service(GA4Config{MeasurementID: "G-1", APISecret: "sec", Endpoint: srv.URL}, testClient())

	res, err := svc.Send(context.Background(), testPayload(t, nil), SendOptions{})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	_, present := (*seen)[0].Body["user_data"]
	assert.False(t, present)
}

func TestGA4ClientIDIsStable(t *testing.T) {
	p := testPayload(t, nil)
	assert.Equal(t, ga4ClientID(p), ga4ClientID(testPayload(t, nil)))
	assert.Equal(t, "sid-9", ga4ClientID(testPayload(t, map[string]any{"sid": "sid-9"})))
	assert.Equal(t, "123.456", ga4ClientID(testPayload(t, map[string]any{"sid": "sid-9", "client_id": "123.456"})))
}

func TestMissingCredentials(t *testing.T) {
	ga4, err := NewGA4Service(GA4Config{}, testClient()).Send(context.Background(), testPayload(t, nil), SendOptions{})
	require.NoError(t, err)
	assert.False(t, ga4.Sent)
	assert.Equal(t, ReasonMissingCredentials, ga4.Reason)

	meta, err := NewMetaCapiService(MetaConfig{PixelID: "1"}, testClient()).Send(context.Background(), testPayload(t, nil), SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReasonMissingCredentials, meta.Reason)
}

func TestMetaSendSuccess(t *testing.T) {
	srv, seen := newServer(t, []int{http.StatusOK}, nil)
	svc := NewMetaCapiService(MetaConfig{PixelID: "999", AccessToken: "tok", GraphURL: srv.URL, TestEventCode: "TEST1"}, testClient())

	p := testPayload(t, map[string]any{"fbclid": "fb-abc", "client_ip": "1.2.3.4"})
	res, err := svc.Send(context.Background(), p, SendOptions{IncludeUserData: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	req := (*seen)[0]
	assert.Equal(t, "/v17.0/999/events", req.Path)
	assert.Equal(t, []string{"tok"}, req.Query["access_token"])
	assert.Equal(t, "TEST1", req.Body["test_event_code"])

	event := req.Body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Purchase", event["event_name"])
	assert.Equal(t, "website", event["action_source"])
	assert.Equal(t, "ABC123", event["event_id"])
	custom := event["custom_data"].(map[string]any)
	assert.Equal(t, "ABC123", custom["booking_code"])
	assert.Equal(t, "fbads", custom["bucket"])

	userData := event["user_data"].(map[string]any)
	assert.Equal(t, []any{hasher.SHA256("x@y.com")}, userData["em"])
	assert.Equal(t, "1.2.3.4", userData["client_ip_address"])
	assert.Contains(t, userData["fbc"], "fb-abc")
}

func TestResultClassification(t *testing.T) {
	tests := []struct {
		name   string
		codes  []int
		reason Reason
		code   int
	}{
		{"rate limited", []int{429}, ReasonHTTP429, 429},
		{"server error", []int{502}, ReasonHTTP5xx, 502},
		{"client error", []int{400}, ReasonHTTP4xx, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.codes, map[string]string{"Retry-After": "7"})
			svc := NewGA4Service(GA4Config{MeasurementID: "G", APISecret: "s", Endpoint: srv.URL}, testClient())

			res, err := svc.Send(context.Background(), testPayload(t, nil), SendOptions{})
			require.NoError(t, err)
			assert.False(t, res.Sent)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.code, res.Code)
		})
	}
}

func TestRetryAfterSurfacesOnResult(t *testing.T) {
	srv, seen := newServer(t, []int{429}, map[string]string{"Retry-After": "7"})
	svc := NewMetaCapiService(MetaConfig{PixelID: "1", AccessToken: "t", GraphURL: srv.URL}, testClient())

	res, err := svc.Send(context.Background(), testPayload(t, nil), SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, res.RetryAfter)
	assert.Equal(t, ReasonHTTP429, res.Reason)
	// Hints above the inline limit are not waited out in process.
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, *seen, 1)
}

func TestTransportErrorResult(t *testing.T) {
	res := resultFromHTTP(NameMeta, httpretry.Result{Attempts: 3, Err: assert.AnError})
	assert.Equal(t, ReasonTransportError, res.Reason)
	assert.Equal(t, 0, res.Code)
	assert.Equal(t, assert.AnError.Error(), res.Error)
}
