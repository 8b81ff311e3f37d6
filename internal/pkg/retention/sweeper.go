// Package retention removes old conversions, intents and audit entries,
// optionally archiving them to S3 first.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/app/repository"
)

const defaultBatchSize = 200

// Archiver stores rows before they are deleted. archive.Archiver implements it.
type Archiver interface {
	Archive(ctx context.Context, table string, rows []any) error
}

// Config controls how far back rows are kept. A non-positive day count
// disables pruning for that table.
type Config struct {
	ConversionDays int
	LogDays        int
	BatchSize      int
}

// Sweeper runs retention passes. It satisfies jobqueue.Sweeper.
type Sweeper struct {
	conversions repository.ConversionRepository
	intents     repository.BookingIntentRepository
	logs        repository.LogRepository
	archiver    Archiver
	cfg         Config
	now         func() time.Time
}

// NewSweeper builds a sweeper. archiver may be nil, in which case rows are
// deleted without a copy.
func NewSweeper(repos *repository.Repositories, archiver Archiver, cfg Config) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Sweeper{
		conversions: repos.Conversion,
		intents:     repos.BookingIntent,
		logs:        repos.Log,
		archiver:    archiver,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Sweep prunes every table once. Errors are collected so one failing
// table does not block the others.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var errs []error
	now := s.now()

	if s.cfg.ConversionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.ConversionDays)
		n, err := s.sweepConversions(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversions: %w", err))
		}
		if n > 0 {
			log.Infof("[Retention] Removed %d conversions older than %s", n, cutoff.Format(time.DateOnly))
		}

		// Intents only matter for attribution of conversions in the same window.
		n, err = s.intents.PruneOlderThan(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("booking intents: %w", err))
		}
		if n > 0 {
			log.Infof("[Retention] Removed %d booking intents older than %s", n, cutoff.Format(time.DateOnly))
		}
	}

	if s.cfg.LogDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.LogDays)
		n, err := s.sweepLogs(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("logs: %w", err))
		}
		if n > 0 {
			log.Infof("[Retention] Removed %d log entries older than %s", n, cutoff.Format(time.DateOnly))
		}
	}

	return errors.Join(errs...)
}

func (s *Sweeper) sweepConversions(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.archiver == nil {
		return s.conversions.PruneOlderThan(ctx, cutoff)
	}

	var total int64
	for {
		batch, err := s.conversions.OlderThan(ctx, cutoff, s.cfg.BatchSize)
		if err != nil || len(batch) == 0 {
			return total, err
		}
		rows := make([]any, len(batch))
		ids := make([]uint, len(batch))
		for i := range batch {
			rows[i] = batch[i]
			ids[i] = batch[i].ID
		}
		if err := s.archiver.Archive(ctx, models.Conversion{}.TableName(), rows); err != nil {
			return total, fmt.Errorf("archive failed, rows kept: %w", err)
		}
		n, err := s.conversions.DeleteByIDs(ctx, ids)
		total += n
		if err != nil {
			return total, err
		}
		if len(batch) < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Sweeper) sweepLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.archiver == nil {
		return s.logs.PruneOlderThan(ctx, cutoff)
	}

	var total int64
	for {
		batch, err := s.logs.OlderThan(ctx, cutoff, s.cfg.BatchSize)
		if err != nil || len(batch) == 0 {
			return total, err
		}
		rows := make([]any, len(batch))
		ids := make([]uint, len(batch))
		for i := range batch {
			rows[i] = batch[i]
			ids[i] = batch[i].ID
		}
		if err := s.archiver.Archive(ctx, models.LogEntry{}.TableName(), rows); err != nil {
			return total, fmt.Errorf("archive failed, rows kept: %w", err)
		}
		n, err := s.logs.DeleteByIDs(ctx, ids)
		total += n
		if err != nil {
			return total, err
		}
		if len(batch) < s.cfg.BatchSize {
			return total, nil
		}
	}
}
