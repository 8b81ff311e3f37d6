package jobqueue

import (
	"strings"
	"time"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
)

// Dispatch modes for the webhook.
const (
	DispatchModeSync  = "sync"
	DispatchModeAsync = "async"
)

// Settings configures dispatch and background workers.
type Settings struct {
	DispatchMode            string
	PollInterval            time.Duration
	BatchSize               int
	Workers                 int
	RetentionDaysConversion int
	RetentionDaysLogs       int
	RetentionSweepInterval  time.Duration
}

func LoadSettingsFromEnv() Settings {
	mode := strings.ToLower(strings.TrimSpace(env.GetEnv("DISPATCH_MODE", DispatchModeSync)))
	if mode != DispatchModeAsync {
		mode = DispatchModeSync
	}

	s := Settings{
		DispatchMode:            mode,
		PollInterval:            time.Duration(env.GetEnvInt("DISPATCH_POLL_INTERVAL_SECONDS", 5)) * time.Second,
		BatchSize:               env.GetEnvInt("DISPATCH_BATCH_SIZE", 50),
		Workers:                 env.GetEnvInt("DISPATCH_WORKERS", 4),
		RetentionDaysConversion: env.GetEnvInt("RETENTION_DAYS_CONVERSIONS", 365),
		RetentionDaysLogs:       env.GetEnvInt("RETENTION_DAYS_LOGS", 30),
		RetentionSweepInterval:  time.Duration(env.GetEnvInt("RETENTION_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.RetentionSweepInterval <= 0 {
		s.RetentionSweepInterval = time.Hour
	}
	return s
}

// Async reports whether the webhook should only enqueue.
func (s Settings) Async() bool {
	return s.DispatchMode == DispatchModeAsync
}
