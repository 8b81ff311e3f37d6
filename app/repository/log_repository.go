package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BookingRelay/app/models"
)

// logRepository implements the LogRepository interface
type logRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new log repository instance
func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) EnsureSchema() error {
	return r.db.AutoMigrate(&models.LogEntry{})
}

// Append writes a single audit entry
func (r *logRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Latest returns the newest entries, optionally filtered by channel
func (r *logRepository) Latest(ctx context.Context, limit int, channel string) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	query := r.db.WithContext(ctx).Order("id DESC").Limit(ClampLimit(limit))
	if channel != "" {
		query = query.Where("channel = ?", channel)
	}
	err := query.Find(&entries).Error
	return entries, err
}

func (r *logRepository) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := r.db.WithContext(ctx).Where("created_at < ?", cutoff).
		Order("id ASC").Limit(ClampLimit(limit)).Find(&entries).Error
	return entries, err
}

func (r *logRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.LogEntry{})
	return tx.RowsAffected, tx.Error
}

func (r *logRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.LogEntry{})
	return tx.RowsAffected, tx.Error
}
