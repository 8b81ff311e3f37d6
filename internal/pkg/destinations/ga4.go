package destinations

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/httpretry"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

const defaultGA4Endpoint = "https://www.google-analytics.com/mp/collect"

// GA4Config holds Measurement Protocol credentials.
type GA4Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
}

func LoadGA4ConfigFromEnv() GA4Config {
	return GA4Config{
		MeasurementID: strings.TrimSpace(env.GetEnv("GA4_MEASUREMENT_ID", "")),
		APISecret:     strings.TrimSpace(env.GetEnv("GA4_API_SECRET", "")),
		Endpoint:      strings.TrimSpace(env.GetEnv("GA4_ENDPOINT", defaultGA4Endpoint)),
	}
}

// Configured reports whether both credentials are set.
func (c GA4Config) Configured() bool {
	return c.MeasurementID != "" && c.APISecret != ""
}

// GA4Service sends purchase events to GA4 Measurement Protocol.
type GA4Service struct {
	cfg    GA4Config
	client *httpretry.Client
	now    func() time.Time
}

func NewGA4Service(cfg GA4Config, client *httpretry.Client) *GA4Service {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGA4Endpoint
	}
	return &GA4Service{cfg: cfg, client: client, now: time.Now}
}

func (s *GA4Service) Name() string { return NameGA4 }

type ga4Item struct {
	ItemID   string  `json:"item_id"`
	ItemName string  `json:"item_name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type ga4Params struct {
	Currency      string    `json:"currency"`
	Value         float64   `json:"value"`
	TransactionID string    `json:"transaction_id"`
	Items         []ga4Item `json:"items"`
	Bucket        string    `json:"bucket,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Gclid         string    `json:"gclid,omitempty"`
	Checkin       string    `json:"checkin,omitempty"`
	Checkout      string    `json:"checkout,omitempty"`
}

type ga4Event struct {
	Name   string    `json:"name"`
	Params ga4Params `json:"params"`
}

type ga4UserData struct {
	SHA256Email []string `json:"sha256_email_address,omitempty"`
	SHA256Phone []string `json:"sha256_phone_number,omitempty"`
}

type ga4Body struct {
	ClientID        string       `json:"client_id"`
	TimestampMicros int64        `json:"timestamp_micros"`
	Events          []ga4Event   `json:"events"`
	UserData        *ga4UserData `json:"user_data,omitempty"`
}

// Send posts one purchase event. Missing credentials are reported as a
// result, not an error.
func (s *GA4Service) Send(ctx context.Context, p *payload.BookingPayload, opts SendOptions) (Result, error) {
	if p == nil {
		return Result{}, errors.New("ga4: nil payload")
	}
	if !s.cfg.Configured() {
		return Result{Destination: NameGA4, Reason: ReasonMissingCredentials}, nil
	}

	body, err := json.Marshal(s.buildBody(p, opts))
	if err != nil {
		return Result{Destination: NameGA4, Reason: ReasonJSONEncodeFailed, Error: err.Error()}, nil
	}

	q := url.Values{}
	q.Set("measurement_id", s.cfg.MeasurementID)
	q.Set("api_secret", s.cfg.APISecret)
	endpoint := s.cfg.Endpoint + "?" + q.Encode()

	res := s.client.PostWithRetry(ctx, func() (httpretry.Request, error) {
		return httpretry.Request{URL: endpoint, Body: body}, nil
	})
	return resultFromHTTP(NameGA4, res), nil
}

func (s *GA4Service) buildBody(p *payload.BookingPayload, opts SendOptions) ga4Body {
	eventTime := p.EventTime()
	if eventTime.IsZero() {
		eventTime = s.now()
	}

	params := ga4Params{
		Currency:      p.Currency(),
		Value:         p.Amount(),
		TransactionID: p.BookingCode(),
		Items: []ga4Item{{
			ItemID:   p.BookingCode(),
			ItemName: "Booking",
			Price:    p.Amount(),
			Quantity: 1,
		}},
		Bucket:    string(p.Bucket()),
		SessionID: p.SID(),
		Gclid:     p.Identifier("gclid"),
	}
	if in, ok := p.Checkin(); ok {
		params.Checkin = in.Format("2006-01-02")
	}
	if out, ok := p.Checkout(); ok {
		params.Checkout = out.Format("2006-01-02")
	}

	body := ga4Body{
		ClientID:        ga4ClientID(p),
		TimestampMicros: eventTime.UnixMicro(),
		Events:          []ga4Event{{Name: "purchase", Params: params}},
	}
	if opts.IncludeUserData {
		ud := &ga4UserData{}
		if h := p.GuestEmailHash(); h != "" {
			ud.SHA256Email = []string{h}
		}
		if h := p.GuestPhoneHash(); h != "" {
			ud.SHA256Phone = []string{h}
		}
		if len(ud.SHA256Email) > 0 || len(ud.SHA256Phone) > 0 {
			body.UserData = ud
		}
	}
	return body
}

// ga4ClientID prefers the browser client id, then the session id, then a
// stable id derived from the booking code.
func ga4ClientID(p *payload.BookingPayload) string {
	if id := p.ClientID(); id != "" {
		return id
	}
	if sid := p.SID(); sid != "" {
		return sid
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.BookingCode())).String()
}
