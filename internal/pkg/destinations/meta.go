package destinations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/httpretry"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

const (
	defaultMetaGraphURL   = "https://graph.facebook.com"
	defaultMetaAPIVersion = "v17.0"
)

// MetaConfig holds Conversions API credentials.
type MetaConfig struct {
	PixelID       string
	AccessToken   string
	APIVersion    string
	GraphURL      string
	TestEventCode string
}

func LoadMetaConfigFromEnv() MetaConfig {
	return MetaConfig{
		PixelID:       strings.TrimSpace(env.GetEnv("META_PIXEL_ID", "")),
		AccessToken:   strings.TrimSpace(env.GetEnv("META_ACCESS_TOKEN", "")),
		APIVersion:    strings.TrimSpace(env.GetEnv("META_API_VERSION", defaultMetaAPIVersion)),
		GraphURL:      strings.TrimRight(strings.TrimSpace(env.GetEnv("META_GRAPH_URL", defaultMetaGraphURL)), "/"),
		TestEventCode: strings.TrimSpace(env.GetEnv("META_TEST_EVENT_CODE", "")),
	}
}

func (c MetaConfig) Configured() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// MetaCapiService sends Purchase events to the Meta Conversions API.
type MetaCapiService struct {
	cfg    MetaConfig
	client *httpretry.Client
	now    func() time.Time
}

func NewMetaCapiService(cfg MetaConfig, client *httpretry.Client) *MetaCapiService {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultMetaAPIVersion
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultMetaGraphURL
	}
	return &MetaCapiService{cfg: cfg, client: client, now: time.Now}
}

func (s *MetaCapiService) Name() string { return NameMeta }

type metaCustomData struct {
	Currency    string  `json:"currency"`
	Value       float64 `json:"value"`
	BookingCode string  `json:"booking_code"`
	Bucket      string  `json:"bucket,omitempty"`
}

type metaUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	Fbc             string   `json:"fbc,omitempty"`
}

func (u *metaUserData) empty() bool {
	return len(u.Em) == 0 && len(u.Ph) == 0 && u.ClientIPAddress == "" && u.ClientUserAgent == "" && u.Fbc == ""
}

type metaEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	EventID        string         `json:"event_id"`
	CustomData     metaCustomData `json:"custom_data"`
	UserData       *metaUserData  `json:"user_data,omitempty"`
}

type metaBody struct {
	Data          []metaEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

func (s *MetaCapiService) Send(ctx context.Context, p *payload.BookingPayload, opts SendOptions) (Result, error) {
	if p == nil {
		return Result{}, errors.New("meta: nil payload")
	}
	if !s.cfg.Configured() {
		return Result{Destination: NameMeta, Reason: ReasonMissingCredentials}, nil
	}

	body, err := json.Marshal(s.buildBody(p, opts))
	if err != nil {
		return Result{Destination: NameMeta, Reason: ReasonJSONEncodeFailed, Error: err.Error()}, nil
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		s.cfg.GraphURL, s.cfg.APIVersion, url.PathEscape(s.cfg.PixelID), url.QueryEscape(s.cfg.AccessToken))

	res := s.client.PostWithRetry(ctx, func() (httpretry.Request, error) {
		return httpretry.Request{URL: endpoint, Body: body}, nil
	})
	return resultFromHTTP(NameMeta, res), nil
}

func (s *MetaCapiService) buildBody(p *payload.BookingPayload, opts SendOptions) metaBody {
	eventTime := p.EventTime()
	if eventTime.IsZero() {
		eventTime = s.now()
	}
	eventID := p.EventID()
	if eventID == "" {
		eventID = p.BookingCode()
	}

	event := metaEvent{
		EventName:      "Purchase",
		EventTime:      eventTime.Unix(),
		EventSourceURL: p.EventSourceURL(),
		ActionSource:   "website",
		EventID:        eventID,
		CustomData: metaCustomData{
			Currency:    p.Currency(),
			Value:       p.Amount(),
			BookingCode: p.BookingCode(),
			Bucket:      string(p.Bucket()),
		},
	}

	if opts.IncludeUserData {
		ud := &metaUserData{
			ClientIPAddress: p.ClientIP(),
			ClientUserAgent: p.UserAgent(),
		}
		if h := p.GuestEmailHash(); h != "" {
			ud.Em = []string{h}
		}
		if h := p.GuestPhoneHash(); h != "" {
			ud.Ph = []string{h}
		}
		if fbclid := p.Identifier("fbclid"); fbclid != "" {
			ud.Fbc = fmt.Sprintf("fb.1.%d.%s", eventTime.UnixMilli(), fbclid)
		}
		if !ud.empty() {
			event.UserData = ud
		}
	}

	return metaBody{Data: []metaEvent{event}, TestEventCode: s.cfg.TestEventCode}
}
