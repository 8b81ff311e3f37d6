package models

import (
	"time"

	"gorm.io/datatypes"
)

// Log channels used across the pipeline.
const (
	LogChannelWebhook = "webhook"
	LogChannelQueue   = "queue"
	LogChannelGA4     = "ga4"
	LogChannelMeta    = "meta"
	LogChannelIntent  = "intent"
	LogChannelError   = "error"
)

// Log levels.
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// LogEntry is one append-only audit record.
type LogEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index:idx_logs_created_at" json:"created_at"`
	Channel   string         `gorm:"type:varchar(32);not null;index:idx_logs_channel" json:"channel"`
	Level     string         `gorm:"type:varchar(16);not null;default:'info'" json:"level"`
	Message   string         `gorm:"type:text;not null" json:"message"`
	Context   datatypes.JSON `gorm:"column:context" json:"context"`
}

// TableName returns the table name for LogEntry
func (LogEntry) TableName() string {
	return "hic_logs"
}
