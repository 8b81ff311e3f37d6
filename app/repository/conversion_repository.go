package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

// conversionRepository implements the ConversionRepository interface
type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository creates a new conversion repository instance
func NewConversionRepository(db *gorm.DB) ConversionRepository {
	return &conversionRepository{db: db}
}

func (r *conversionRepository) EnsureSchema() error {
	return r.db.AutoMigrate(&models.Conversion{})
}

// Insert stores a new conversion. Both delivery flags start false.
func (r *conversionRepository) Insert(ctx context.Context, conversion *models.Conversion) error {
	return r.db.WithContext(ctx).Create(conversion).Error
}

// GetByID retrieves a conversion by its ID
func (r *conversionRepository) GetByID(ctx context.Context, id uint) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := r.db.WithContext(ctx).First(&conversion, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conversion, nil
}

// MarkGa4Status records a GA4 delivery. Passing false is a no-op: flags never reset.
func (r *conversionRepository) MarkGa4Status(ctx context.Context, id uint, sent bool) error {
	return r.UpdateFlags(ctx, id, sent, false)
}

// MarkMetaStatus records a Meta delivery. Passing false is a no-op: flags never reset.
func (r *conversionRepository) MarkMetaStatus(ctx context.Context, id uint, sent bool) error {
	return r.UpdateFlags(ctx, id, false, sent)
}

// UpdateFlags sets the given delivery columns to true with a targeted update.
func (r *conversionRepository) UpdateFlags(ctx context.Context, id uint, ga4Sent, metaSent bool) error {
	updates := map[string]interface{}{}
	if ga4Sent {
		updates["ga4_sent"] = true
	}
	if metaSent {
		updates["meta_sent"] = true
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Conversion{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateBucket overwrites the attribution bucket of a conversion.
func (r *conversionRepository) UpdateBucket(ctx context.Context, id uint, bucket string) error {
	return r.db.WithContext(ctx).Model(&models.Conversion{}).Where("id = ?", id).Update("bucket", bucket).Error
}

// Latest returns the most recent conversions, newest first.
func (r *conversionRepository) Latest(ctx context.Context, limit int) ([]models.Conversion, error) {
	var conversions []models.Conversion
	err := r.db.WithContext(ctx).Order("id DESC").Limit(ClampLimit(limit)).Find(&conversions).Error
	return conversions, err
}

// OlderThan returns up to limit conversions created before cutoff, oldest first.
func (r *conversionRepository) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Conversion, error) {
	var conversions []models.Conversion
	err := r.db.WithContext(ctx).Where("created_at < ?", cutoff).
		Order("id ASC").Limit(ClampLimit(limit)).Find(&conversions).Error
	return conversions, err
}

// DeleteByIDs removes the given conversions. An empty slice deletes nothing.
func (r *conversionRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Conversion{})
	return tx.RowsAffected, tx.Error
}

// PruneOlderThan deletes conversions created before cutoff.
func (r *conversionRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Conversion{})
	return tx.RowsAffected, tx.Error
}

// ConversionFromPayload maps a normalized payload to a new conversion row.
// Guest contact data is stored only as hashes.
func ConversionFromPayload(p *payload.BookingPayload) (*models.Conversion, error) {
	rawJSON, err := p.RawJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: raw payload: %v", ErrEncodeFailed, err)
	}

	c := &models.Conversion{
		BookingCode:     p.BookingCode(),
		Status:          p.Status(),
		Currency:        p.Currency(),
		Amount:          p.Amount(),
		GuestEmailHash:  p.GuestEmailHash(),
		GuestPhoneHash:  p.GuestPhoneHash(),
		Bucket:          string(p.Bucket()),
		BookingIntentID: p.BookingIntentID(),
		SID:             p.SID(),
		RawJSON:         rawJSON,
	}
	if in, ok := p.Checkin(); ok {
		c.Checkin = &in
	}
	if out, ok := p.Checkout(); ok {
		c.Checkout = &out
	}
	return c, nil
}
