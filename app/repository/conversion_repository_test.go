package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BookingRelay/app/models"
)

func newConversion(code string) *models.Conversion {
	return &models.Conversion{
		BookingCode: code,
		Currency:    "EUR",
		Amount:      100,
		RawJSON:     `{"booking_code":"` + code + `","amount":100}`,
	}
}

func TestConversionInsertStartsUnsent(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	c := newConversion("ABC123")
	c.Ga4Sent = true
	c.Bucket = ""
	require.NoError(t, repos.Conversion.Insert(ctx, c))
	require.NotZero(t, c.ID)

	stored, err := repos.Conversion.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", stored.BookingCode)
	assert.False(t, stored.Ga4Sent)
	assert.False(t, stored.MetaSent)
	assert.Equal(t, models.BucketUnknown, stored.Bucket)
	assert.Equal(t, 100.0, stored.Amount)
}

func TestConversionGetByIDNotFound(t *testing.T) {
	_, repos := setupTestDB(t)

	_, err := repos.Conversion.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversionFlagsAreMonotonic(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	c := newConversion("MONO")
	require.NoError(t, repos.Conversion.Insert(ctx, c))

	require.NoError(t, repos.Conversion.MarkGa4Status(ctx, c.ID, true))
	require.NoError(t, repos.Conversion.MarkGa4Status(ctx, c.ID, false))
	require.NoError(t, repos.Conversion.UpdateFlags(ctx, c.ID, false, false))

	stored, err := repos.Conversion.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Ga4Sent)
	assert.False(t, stored.MetaSent)

	require.NoError(t, repos.Conversion.MarkMetaStatus(ctx, c.ID, true))
	stored, err = repos.Conversion.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.FullySent())
}

func TestConversionUpdateBucket(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	c := newConversion("BUCKET")
	require.NoError(t, repos.Conversion.Insert(ctx, c))
	require.NoError(t, repos.Conversion.UpdateBucket(ctx, c.ID, models.BucketInvalidPayload))

	stored, err := repos.Conversion.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BucketInvalidPayload, stored.Bucket)
}

func TestConversionLatestIsClampedAndOrdered(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, repos.Conversion.Insert(ctx, newConversion(code)))
	}

	latest, err := repos.Conversion.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "C", latest[0].BookingCode)
	assert.Equal(t, "B", latest[1].BookingCode)

	all, err := repos.Conversion.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConversionPruneOlderThan(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	old := newConversion("OLD")
	old.CreatedAt = time.Now().AddDate(0, 0, -120)
	require.NoError(t, repos.Conversion.Insert(ctx, old))
	require.NoError(t, repos.Conversion.Insert(ctx, newConversion("NEW")))

	cutoff := time.Now().AddDate(0, 0, -90)
	stale, err := repos.Conversion.OlderThan(ctx, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "OLD", stale[0].BookingCode)

	deleted, err := repos.Conversion.PruneOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repos.Conversion.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLatestLimit, ClampLimit(0))
	assert.Equal(t, DefaultLatestLimit, ClampLimit(-3))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxLatestLimit, ClampLimit(10000))
}
