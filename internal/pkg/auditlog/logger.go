// Package auditlog writes structured audit entries to the hic_logs table and
// mirrors them to the process log.
package auditlog

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/BookingRelay/app/models"
)

// Store persists log entries. repository.LogRepository satisfies it.
type Store interface {
	Append(ctx context.Context, entry *models.LogEntry) error
}

// Logger is safe to use as a nil pointer; it then only writes to the process log.
type Logger struct {
	store Store
}

// New creates a Logger backed by store.
func New(store Store) *Logger {
	return &Logger{store: store}
}

// Log masks sensitive fields and appends an entry. Storage failures are
// reported on the process log and never returned.
func (l *Logger) Log(ctx context.Context, channel, level, message string, fields map[string]any) {
	masked := MaskFields(fields)
	mirror(channel, level, message, masked)

	if l == nil || l.store == nil {
		return
	}

	entry := &models.LogEntry{
		Channel: channel,
		Level:   level,
		Message: message,
	}
	if len(masked) > 0 {
		b, err := json.Marshal(masked)
		if err != nil {
			log.Warnf("[Audit] Failed to encode context for %q: %v", message, err)
		} else {
			entry.Context = datatypes.JSON(b)
		}
	}
	if err := l.store.Append(ctx, entry); err != nil {
		log.Errorf("[Audit] Failed to persist %s entry %q: %v", channel, message, err)
	}
}

func (l *Logger) Info(ctx context.Context, channel, message string, fields map[string]any) {
	l.Log(ctx, channel, models.LogLevelInfo, message, fields)
}

func (l *Logger) Warn(ctx context.Context, channel, message string, fields map[string]any) {
	l.Log(ctx, channel, models.LogLevelWarning, message, fields)
}

func (l *Logger) Error(ctx context.Context, channel, message string, fields map[string]any) {
	l.Log(ctx, channel, models.LogLevelError, message, fields)
}

func mirror(channel, level, message string, fields map[string]any) {
	switch level {
	case models.LogLevelError:
		log.Errorf("[Audit:%s] %s %v", channel, message, fields)
	case models.LogLevelWarning:
		log.Warnf("[Audit:%s] %s %v", channel, message, fields)
	case models.LogLevelDebug:
		log.Debugf("[Audit:%s] %s %v", channel, message, fields)
	default:
		log.Infof("[Audit:%s] %s %v", channel, message, fields)
	}
}
