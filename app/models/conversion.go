package models

import (
	"time"

	"gorm.io/gorm"
)

// Attribution buckets stored on a conversion.
const (
	BucketGoogleAds      = "gads"
	BucketMetaAds        = "fbads"
	BucketOrganic        = "organic"
	BucketUnknown        = "unknown"
	BucketInvalidPayload = "invalid_payload"
)

// Conversion is one booking event accepted by the webhook. Guest contact data
// is stored only as hashes. Ga4Sent and MetaSent only ever move from false to true.
type Conversion struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index:idx_conversions_created_at" json:"created_at"`
	BookingCode     string     `gorm:"type:varchar(191);not null;index:idx_conversions_booking_code" json:"booking_code"`
	Status          string     `gorm:"type:varchar(50);not null;default:''" json:"status"`
	Checkin         *time.Time `gorm:"type:date" json:"checkin,omitempty"`
	Checkout        *time.Time `gorm:"type:date" json:"checkout,omitempty"`
	Currency        string     `gorm:"type:char(3);not null;default:'EUR'" json:"currency"`
	Amount          float64    `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	GuestEmailHash  string     `gorm:"type:char(64);not null;default:''" json:"guest_email_hash"`
	GuestPhoneHash  string     `gorm:"type:char(64);not null;default:''" json:"guest_phone_hash"`
	Bucket          string     `gorm:"type:varchar(20);not null;default:'unknown';index:idx_conversions_bucket" json:"bucket"`
	Ga4Sent         bool       `gorm:"column:ga4_sent;not null;default:false" json:"ga4_sent"`
	MetaSent        bool       `gorm:"column:meta_sent;not null;default:false" json:"meta_sent"`
	BookingIntentID string     `gorm:"type:varchar(36);not null;default:''" json:"booking_intent_id"`
	SID             string     `gorm:"column:sid;type:varchar(128);not null;default:''" json:"sid"`
	RawJSON         string     `gorm:"column:raw_json;type:longtext" json:"-"`
}

// TableName returns the table name for Conversion
func (Conversion) TableName() string {
	return "hic_conversions"
}

// BeforeCreate fills defaults and forces both delivery flags to false.
func (c *Conversion) BeforeCreate(tx *gorm.DB) error {
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if c.Bucket == "" {
		c.Bucket = BucketUnknown
	}
	c.Ga4Sent = false
	c.MetaSent = false
	return nil
}

// FullySent reports whether every destination has accepted the conversion.
func (c *Conversion) FullySent() bool {
	return c.Ga4Sent && c.MetaSent
}
