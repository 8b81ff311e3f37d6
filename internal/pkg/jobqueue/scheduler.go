package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrSchedulerUnavailable marks a task no scheduler accepted. The task did
// not run, so the caller may run it itself.
var ErrSchedulerUnavailable = errors.New("deferred task scheduler unavailable")

// DeferredTaskScheduler schedules single shot tasks to run after a delay.
type DeferredTaskScheduler interface {
	Schedule(ctx context.Context, task Task, delay time.Duration) error
	IsScheduled(ctx context.Context, task Task) (bool, error)
}

// TaskHandler runs a due task.
type TaskHandler func(ctx context.Context, task Task) error

// ImmediateScheduler runs tasks synchronously on Schedule and ignores the
// delay. It serves tests and deployments without Redis. The handler's error
// is returned unchanged.
type ImmediateScheduler struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
	ran      []Task
}

func NewImmediateScheduler() *ImmediateScheduler {
	return &ImmediateScheduler{handlers: map[string]TaskHandler{}}
}

// Register binds a handler to a task name.
func (s *ImmediateScheduler) Register(name string, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

func (s *ImmediateScheduler) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	s.mu.Lock()
	handler, ok := s.handlers[task.Name]
	s.ran = append(s.ran, task)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no handler registered for task %s", ErrSchedulerUnavailable, task.Name)
	}
	if delay > 0 {
		log.Debugf("[Scheduler] Running %s now instead of in %s", task.Key(), delay)
	}
	return handler(ctx, task)
}

// IsScheduled is always false: nothing is ever pending.
func (s *ImmediateScheduler) IsScheduled(context.Context, Task) (bool, error) {
	return false, nil
}

// Ran returns the tasks executed so far.
func (s *ImmediateScheduler) Ran() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.ran))
	copy(out, s.ran)
	return out
}
