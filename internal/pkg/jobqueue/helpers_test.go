package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/testutil"
)

// fakeService replays scripted results; the last one repeats.
type fakeService struct {
	name     string
	results  []destinations.Result
	err      error
	panicMsg string

	mu       sync.Mutex
	calls    int
	payloads []*payload.BookingPayload
	opts     []destinations.SendOptions
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Send(_ context.Context, p *payload.BookingPayload, opts destinations.SendOptions) (destinations.Result, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, p)
	f.opts = append(f.opts, opts)
	n := f.calls
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return destinations.Result{}, f.err
	}
	if len(f.results) == 0 {
		return destinations.Result{Destination: f.name, Sent: true, Code: 204, Attempts: 1}, nil
	}
	if n > len(f.results) {
		n = len(f.results)
	}
	return f.results[n-1], nil
}

func (f *fakeService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sent(name string) destinations.Result {
	return destinations.Result{Destination: name, Sent: true, Code: 204, Attempts: 1}
}

func failed(name string, code int, reason destinations.Reason, retryAfter time.Duration) destinations.Result {
	return destinations.Result{Destination: name, Code: code, Reason: reason, RetryAfter: retryAfter, Attempts: 3}
}

type scheduledTask struct {
	Task  Task
	Delay time.Duration
}

// recordingScheduler records tasks and never runs them. err makes it
// behave like an unreachable Redis.
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledTask
	pending   map[string]bool
	err       error
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{pending: map[string]bool{}}
}

func (s *recordingScheduler) Schedule(_ context.Context, task Task, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %w", ErrSchedulerUnavailable, s.err)
	}
	s.scheduled = append(s.scheduled, scheduledTask{Task: task, Delay: delay})
	s.pending[task.Key()] = true
	return nil
}

func (s *recordingScheduler) IsScheduled(_ context.Context, task Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[task.Key()], nil
}

func (s *recordingScheduler) Scheduled() []scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledTask(nil), s.scheduled...)
}

// flakyMarks fails GA4 flag writes.
type flakyMarks struct {
	repository.ConversionRepository
}

func (f flakyMarks) MarkGa4Status(context.Context, uint, bool) error {
	return errors.New("lock wait timeout exceeded")
}

type harness struct {
	db        *gorm.DB
	repos     *repository.Repositories
	ga4       *fakeService
	meta      *fakeService
	scheduler *recordingScheduler
	queue     *ConversionDispatchQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	repos := repository.NewRepositories(db)
	require.NoError(t, repos.EnsureSchema())

	h := &harness{
		db:        db,
		repos:     repos,
		ga4:       &fakeService{name: destinations.NameGA4},
		meta:      &fakeService{name: destinations.NameMeta},
		scheduler: newRecordingScheduler(),
	}
	h.queue = h.build(repos.Conversion, h.scheduler)
	return h
}

func (h *harness) build(conversions repository.ConversionRepository, scheduler DeferredTaskScheduler) *ConversionDispatchQueue {
	return NewConversionDispatchQueue(Dependencies{
		Conversions: conversions,
		GA4:         h.ga4,
		Meta:        h.meta,
		Scheduler:   scheduler,
		Audit:       auditlog.New(h.repos.Log),
	})
}

func (h *harness) insert(t *testing.T, raw map[string]any) *models.Conversion {
	t.Helper()

	p, err := payload.FromMap(raw)
	require.NoError(t, err)
	c, err := repository.ConversionFromPayload(p)
	require.NoError(t, err)
	require.NoError(t, h.repos.Conversion.Insert(context.Background(), c))
	return c
}

func (h *harness) reload(t *testing.T, id uint) *models.Conversion {
	t.Helper()
	c, err := h.repos.Conversion.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func booking() map[string]any {
	return map[string]any{
		"booking_code": "ABC123",
		"amount":       100,
		"currency":     "eur",
		"guest_email":  "X@Y.COM",
	}
}
