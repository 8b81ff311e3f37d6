package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
)

const (
	// DefaultLatestLimit is used when a caller asks for a non-positive number of rows.
	DefaultLatestLimit = 50
	// MaxLatestLimit caps every Latest read.
	MaxLatestLimit = 500
)

// ConversionRepository defines persistence for accepted booking conversions.
type ConversionRepository interface {
	EnsureSchema() error
	Insert(ctx context.Context, conversion *models.Conversion) error
	GetByID(ctx context.Context, id uint) (*models.Conversion, error)
	MarkGa4Status(ctx context.Context, id uint, sent bool) error
	MarkMetaStatus(ctx context.Context, id uint, sent bool) error
	UpdateFlags(ctx context.Context, id uint, ga4Sent, metaSent bool) error
	UpdateBucket(ctx context.Context, id uint, bucket string) error
	Latest(ctx context.Context, limit int) ([]models.Conversion, error)
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Conversion, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookingIntentRepository defines persistence for pre-booking attribution intents.
type BookingIntentRepository interface {
	EnsureSchema() error
	Record(ctx context.Context, sid string, utm, ids map[string]any) (*models.BookingIntent, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.BookingIntent, error)
	FindLatestBySID(ctx context.Context, sid string) (*models.BookingIntent, error)
	Latest(ctx context.Context, limit int) ([]models.BookingIntent, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogRepository defines persistence for the structured audit trail.
type LogRepository interface {
	EnsureSchema() error
	Append(ctx context.Context, entry *models.LogEntry) error
	Latest(ctx context.Context, limit int, channel string) ([]models.LogEntry, error)
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.LogEntry, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditSink receives audit messages from repositories. auditlog.Logger implements it.
type AuditSink interface {
	Log(ctx context.Context, channel, level, message string, fields map[string]any)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Conversion    ConversionRepository
	BookingIntent BookingIntentRepository
	Log           LogRepository
}

// NewRepositories creates a new instance of all repositories. Repository
// level audit messages go through an auditlog.Logger backed by the log table.
func NewRepositories(db *gorm.DB) *Repositories {
	logs := NewLogRepository(db)
	return &Repositories{
		Conversion:    NewConversionRepository(db),
		BookingIntent: NewBookingIntentRepository(db, auditlog.New(logs)),
		Log:           logs,
	}
}

// TableNames lists the tables owned by the repositories.
func TableNames() []string {
	return []string{
		models.Conversion{}.TableName(),
		models.BookingIntent{}.TableName(),
		models.LogEntry{}.TableName(),
	}
}

// EnsureSchema creates or updates every table. Safe to call on each boot.
func (r *Repositories) EnsureSchema() error {
	if err := r.Conversion.EnsureSchema(); err != nil {
		return err
	}
	if err := r.BookingIntent.EnsureSchema(); err != nil {
		return err
	}
	return r.Log.EnsureSchema()
}

// ClampLimit bounds a Latest limit to [1, MaxLatestLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLatestLimit
	}
	if limit > MaxLatestLimit {
		return MaxLatestLimit
	}
	return limit
}
