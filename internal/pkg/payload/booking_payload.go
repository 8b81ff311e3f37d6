// Package payload turns raw inbound booking records into a canonical,
// immutable BookingPayload that the dispatch pipeline can rely on.
package payload

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/hasher"
)

// Bucket is the coarse attribution category of a conversion.
type Bucket string

const (
	BucketGoogleAds      Bucket = "gads"
	BucketMetaAds        Bucket = "fbads"
	BucketOrganic        Bucket = "organic"
	BucketUnknown        Bucket = "unknown"
	BucketInvalidPayload Bucket = "invalid_payload"
)

const (
	DefaultCurrency = "EUR"
	dateLayout      = "2006-01-02"
)

// IdentifierKeys lists the marketing click identifiers carried through the pipeline.
var IdentifierKeys = []string{"gclid", "gbraid", "wbraid", "fbclid", "msclkid", "ttclid"}

var (
	bookingCodeKeys = []string{"booking_code", "reservation_code", "reservation_id"}
	amountKeys      = []string{"amount", "total", "value"}
	emailKeys       = []string{"guest_email", "email"}
	phoneKeys       = []string{"guest_phone", "phone"}
	checkinKeys     = []string{"checkin", "check_in", "date_from"}
	checkoutKeys    = []string{"checkout", "check_out", "date_to"}
	emailHashKeys   = []string{"guest_email_hash", "email_hash", "em"}
	phoneHashKeys   = []string{"guest_phone_hash", "phone_hash", "ph"}
	clientIDKeys    = []string{"client_id", "ga_client_id", "cid"}
	nestedIDMaps    = []string{"tracking", "identifiers"}
)

// BookingPayload is the normalized view of one booking. It is never mutated
// after construction; derived variants are returned as copies.
type BookingPayload struct {
	bookingCode     string
	status          string
	checkin         *time.Time
	checkout        *time.Time
	currency        string
	amount          float64
	guestEmail      string
	guestPhone      string
	rooms           int
	guests          int
	bucket          Bucket
	identifiers     map[string]string
	bookingIntentID string
	sid             string
	clientID        string
	clientIP        string
	userAgent       string
	eventID         string
	eventSourceURL  string
	eventTime       time.Time
	raw             map[string]any
}

// FromMap validates and normalizes a raw booking record. It fails only when
// the booking code is missing or the amount is not a positive finite number.
// An inbound "bucket" key is ignored; attribution comes from click ids and
// the "source" hint only.
func FromMap(raw map[string]any) (*BookingPayload, error) {
	return build(raw, "")
}

// FromStored rebuilds a payload from the columns of a stored conversion.
// storedBucket is kept when the columns carry no click identifiers.
func FromStored(raw map[string]any, storedBucket string) (*BookingPayload, error) {
	return build(raw, storedBucket)
}

func build(raw map[string]any, storedBucket string) (*BookingPayload, error) {
	if raw == nil {
		raw = map[string]any{}
	}

	code := firstString(raw, bookingCodeKeys...)
	if code == "" {
		return nil, &ValidationError{Reason: ReasonMissingBookingCode, Field: "booking_code"}
	}

	rawAmount, _ := firstValue(raw, amountKeys...)
	amount, ok := parseAmount(rawAmount)
	if !ok {
		return nil, &ValidationError{Reason: ReasonInvalidAmount, Field: "amount", Value: rawAmount}
	}

	p := &BookingPayload{
		bookingCode:     code,
		status:          firstString(raw, "status"),
		checkin:         parseDate(firstString(raw, checkinKeys...)),
		checkout:        parseDate(firstString(raw, checkoutKeys...)),
		currency:        normalizeCurrency(firstString(raw, "currency")),
		amount:          amount,
		guestEmail:      hasher.NormalizeEmail(firstString(raw, emailKeys...)),
		guestPhone:      hasher.NormalizePhone(firstString(raw, phoneKeys...)),
		rooms:           firstInt(raw, "rooms"),
		guests:          firstInt(raw, "guests", "adults"),
		identifiers:     collectIdentifiers(raw),
		bookingIntentID: firstString(raw, "booking_intent_id", "intent_id"),
		sid:             firstString(raw, "sid", "session_id"),
		clientID:        firstString(raw, clientIDKeys...),
		clientIP:        firstString(raw, "client_ip", "ip"),
		userAgent:       firstString(raw, "user_agent", "client_user_agent"),
		eventID:         firstString(raw, "event_id"),
		eventSourceURL:  firstString(raw, "event_source_url", "source_url"),
		eventTime:       parseEventTime(raw["event_time"]),
		raw:             copyMap(raw),
	}
	p.bucket = resolveBucket(p.identifiers, firstString(raw, "source"), storedBucket)
	return p, nil
}

func (p *BookingPayload) BookingCode() string { return p.bookingCode }
func (p *BookingPayload) Status() string      { return p.status }
func (p *BookingPayload) Currency() string    { return p.currency }
func (p *BookingPayload) Amount() float64     { return p.amount }
func (p *BookingPayload) GuestEmail() string  { return p.guestEmail }
func (p *BookingPayload) GuestPhone() string  { return p.guestPhone }
func (p *BookingPayload) Rooms() int          { return p.rooms }
func (p *BookingPayload) Guests() int         { return p.guests }
func (p *BookingPayload) Bucket() Bucket      { return p.bucket }
func (p *BookingPayload) BookingIntentID() string {
	return p.bookingIntentID
}
func (p *BookingPayload) SID() string            { return p.sid }
func (p *BookingPayload) ClientID() string       { return p.clientID }
func (p *BookingPayload) ClientIP() string       { return p.clientIP }
func (p *BookingPayload) UserAgent() string      { return p.userAgent }
func (p *BookingPayload) EventID() string        { return p.eventID }
func (p *BookingPayload) EventSourceURL() string { return p.eventSourceURL }

// EventTime is the booking's event time, or the zero time when absent.
func (p *BookingPayload) EventTime() time.Time { return p.eventTime }

// Checkin returns the check-in date and whether it was present and valid.
func (p *BookingPayload) Checkin() (time.Time, bool) {
	if p.checkin == nil {
		return time.Time{}, false
	}
	return *p.checkin, true
}

// Checkout returns the check-out date and whether it was present and valid.
func (p *BookingPayload) Checkout() (time.Time, bool) {
	if p.checkout == nil {
		return time.Time{}, false
	}
	return *p.checkout, true
}

// Identifier returns a single click identifier, "" when absent.
func (p *BookingPayload) Identifier(key string) string {
	return p.identifiers[key]
}

// Identifiers returns a copy of the click identifier map.
func (p *BookingPayload) Identifiers() map[string]string {
	out := make(map[string]string, len(p.identifiers))
	for k, v := range p.identifiers {
		out[k] = v
	}
	return out
}

// HasClickIdentifiers reports whether any marketing click id was captured.
func (p *BookingPayload) HasClickIdentifiers() bool {
	return len(p.identifiers) > 0
}

// Raw returns a shallow copy of the original source map.
func (p *BookingPayload) Raw() map[string]any {
	return copyMap(p.raw)
}

// RawJSON serializes the source map so the payload can be rebuilt on retry.
// Plaintext email and phone are replaced by their hashes.
func (p *BookingPayload) RawJSON() (string, error) {
	b, err := json.Marshal(p.scrubbedRaw())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *BookingPayload) scrubbedRaw() map[string]any {
	out := copyMap(p.raw)
	for _, keys := range [][]string{emailKeys, phoneKeys} {
		for _, key := range keys {
			delete(out, key)
		}
	}
	if h := p.GuestEmailHash(); h != "" {
		out[emailHashKeys[0]] = h
	}
	if h := p.GuestPhoneHash(); h != "" {
		out[phoneHashKeys[0]] = h
	}
	return out
}

// GuestEmailHash prefers a correctly shaped upstream hash, then hashes the
// normalized email. No email yields "".
func (p *BookingPayload) GuestEmailHash() string {
	if h := upstreamHash(p.raw, emailHashKeys); h != "" {
		return h
	}
	return hasher.SHA256(p.guestEmail)
}

// GuestPhoneHash works like GuestEmailHash over the "+"-prefixed E.164 form.
func (p *BookingPayload) GuestPhoneHash() string {
	if h := upstreamHash(p.raw, phoneHashKeys); h != "" {
		return h
	}
	return hasher.SHA256(p.guestPhone)
}

// WithIntentIdentifiers backfills click identifiers captured by a booking
// intent. Payloads that already carry identifiers are returned unchanged.
func (p *BookingPayload) WithIntentIdentifiers(ids map[string]string) *BookingPayload {
	if p.HasClickIdentifiers() || len(ids) == 0 {
		return p
	}
	merged := map[string]string{}
	for _, key := range IdentifierKeys {
		if v := strings.TrimSpace(ids[key]); v != "" {
			merged[key] = v
		}
	}
	if len(merged) == 0 {
		return p
	}

	cp := *p
	cp.identifiers = merged
	cp.raw = copyMap(p.raw)
	// Stored raw_json must carry the backfilled ids so retries resolve the same bucket.
	for k, v := range merged {
		cp.raw[k] = v
	}
	cp.bucket = resolveBucket(merged, firstString(p.raw, "source"), "")
	return &cp
}

func resolveBucket(ids map[string]string, sourceHint, storedBucket string) Bucket {
	switch {
	case ids["gclid"] != "" || ids["gbraid"] != "" || ids["wbraid"] != "":
		return BucketGoogleAds
	case ids["fbclid"] != "":
		return BucketMetaAds
	case strings.EqualFold(sourceHint, string(BucketOrganic)):
		return BucketOrganic
	}
	// Only FromStored passes a hint: the bucket stored on the conversion row.
	switch Bucket(strings.ToLower(storedBucket)) {
	case BucketGoogleAds:
		return BucketGoogleAds
	case BucketMetaAds:
		return BucketMetaAds
	case BucketOrganic:
		return BucketOrganic
	}
	return BucketUnknown
}

func collectIdentifiers(raw map[string]any) map[string]string {
	ids := map[string]string{}
	sources := []map[string]any{raw}
	for _, key := range nestedIDMaps {
		if nested, ok := raw[key].(map[string]any); ok {
			sources = append(sources, nested)
		}
	}
	for _, key := range IdentifierKeys {
		for _, src := range sources {
			if v := firstString(src, key); v != "" {
				ids[key] = v
				break
			}
		}
	}
	return ids
}

func upstreamHash(raw map[string]any, keys []string) string {
	for _, key := range keys {
		v := firstString(raw, key)
		if v != "" && hasher.IsHexDigest(v) {
			return strings.ToLower(v)
		}
	}
	return ""
}

func normalizeCurrency(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if len(c) != 3 {
		return DefaultCurrency
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return DefaultCurrency
		}
	}
	return c
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

func parseAmount(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	rounded, _ := decimal.NewFromFloat(f).Round(2).Float64()
	if rounded <= 0 {
		return 0, false
	}
	return rounded, true
}

func parseEventTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
		if f, ok := toFloat(s); ok && f > 0 {
			return time.Unix(int64(f), 0)
		}
	default:
		if f, ok := toFloat(v); ok && f > 0 {
			return time.Unix(int64(f), 0)
		}
	}
	return time.Time{}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
