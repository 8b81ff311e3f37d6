package models

import (
	"time"

	"gorm.io/datatypes"
)

// BookingIntent links a visitor session to the marketing identifiers seen at
// redirect time, before the booking is confirmed. Rows are immutable.
type BookingIntent struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	IntentID  string         `gorm:"type:varchar(36);not null;uniqueIndex:ux_booking_intents_intent_id" json:"intent_id"`
	SID       string         `gorm:"column:sid;type:varchar(128);not null;default:'';index:idx_booking_intents_sid" json:"sid"`
	UTMJSON   datatypes.JSON `gorm:"column:utm_json" json:"utm"`
	IDsJSON   datatypes.JSON `gorm:"column:ids_json" json:"ids"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index:idx_booking_intents_created_at" json:"created_at"`
}

// TableName returns the table name for BookingIntent
func (BookingIntent) TableName() string {
	return "hic_booking_intents"
}
