package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BookingRelay/app/models"
)

const encodePreviewLimit = 200

// bookingIntentRepository implements the BookingIntentRepository interface
type bookingIntentRepository struct {
	db    *gorm.DB
	audit AuditSink
}

// NewBookingIntentRepository creates a new booking intent repository instance.
// audit may be nil.
func NewBookingIntentRepository(db *gorm.DB, audit AuditSink) BookingIntentRepository {
	return &bookingIntentRepository{db: db, audit: audit}
}

func (r *bookingIntentRepository) EnsureSchema() error {
	return r.db.AutoMigrate(&models.BookingIntent{})
}

// Record stores a new intent with a generated intent id. If either map cannot
// be serialized nothing is written and ErrEncodeFailed is returned.
func (r *bookingIntentRepository) Record(ctx context.Context, sid string, utm, ids map[string]any) (*models.BookingIntent, error) {
	utmJSON, err := r.encode(ctx, "utm", utm)
	if err != nil {
		return nil, err
	}
	idsJSON, err := r.encode(ctx, "ids", ids)
	if err != nil {
		return nil, err
	}

	intent := &models.BookingIntent{
		IntentID: uuid.NewString(),
		SID:      strings.TrimSpace(sid),
		UTMJSON:  utmJSON,
		IDsJSON:  idsJSON,
	}
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, err
	}
	return intent, nil
}

func (r *bookingIntentRepository) encode(ctx context.Context, field string, value map[string]any) (datatypes.JSON, error) {
	if value == nil {
		value = map[string]any{}
	}
	b, err := json.Marshal(value)
	if err == nil {
		return datatypes.JSON(b), nil
	}

	preview := sanitizedPreview(value)
	log.Errorf("[BookingIntentRepository] Failed to encode %s: %v (preview: %s)", field, err, preview)
	if r.audit != nil {
		r.audit.Log(ctx, models.LogChannelIntent, models.LogLevelError, "booking intent encode failed", map[string]any{
			"field":   field,
			"error":   err.Error(),
			"preview": preview,
		})
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrEncodeFailed, field, err)
}

// FindByIntentID retrieves an intent by its public id
func (r *bookingIntentRepository) FindByIntentID(ctx context.Context, intentID string) (*models.BookingIntent, error) {
	var intent models.BookingIntent
	if err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&intent).Error; err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

// FindLatestBySID retrieves the newest intent recorded for a session
func (r *bookingIntentRepository) FindLatestBySID(ctx context.Context, sid string) (*models.BookingIntent, error) {
	var intent models.BookingIntent
	err := r.db.WithContext(ctx).Where("sid = ?", sid).Order("id DESC").First(&intent).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &intent, nil
}

func (r *bookingIntentRepository) Latest(ctx context.Context, limit int) ([]models.BookingIntent, error) {
	var intents []models.BookingIntent
	err := r.db.WithContext(ctx).Order("id DESC").Limit(ClampLimit(limit)).Find(&intents).Error
	return intents, err
}

func (r *bookingIntentRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.BookingIntent{})
	return tx.RowsAffected, tx.Error
}

// sanitizedPreview renders value for logs without control characters and
// truncated to encodePreviewLimit runes.
func sanitizedPreview(value any) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, fmt.Sprintf("%v", value))
	runes := []rune(s)
	if len(runes) > encodePreviewLimit {
		return string(runes[:encodePreviewLimit]) + "..."
	}
	return s
}

// IntentIdentifiers decodes the click identifiers stored on an intent.
func IntentIdentifiers(intent *models.BookingIntent) map[string]string {
	out := map[string]string{}
	if intent == nil || len(intent.IDsJSON) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(intent.IDsJSON, &raw); err != nil {
		log.Warnf("[BookingIntentRepository] Failed to decode ids for intent %s: %v", intent.IntentID, err)
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out[k] = strings.TrimSpace(s)
		}
	}
	return out
}
