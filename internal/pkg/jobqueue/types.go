package jobqueue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
)

const (
	// TaskDispatchConversion carries [conversionID, attempt].
	TaskDispatchConversion = "hic_s2s_dispatch_conversion"

	// MaxAttempts bounds the delivery campaign of one conversion.
	MaxAttempts = 3
)

// Task is a named deferred task with integer arguments.
type Task struct {
	Name string  `json:"name"`
	Args []int64 `json:"args"`
}

// NewDispatchTask builds the dispatch task for a conversion attempt.
func NewDispatchTask(conversionID uint, attempt int) Task {
	return Task{Name: TaskDispatchConversion, Args: []int64{int64(conversionID), int64(attempt)}}
}

// Key identifies a task by name and arguments.
func (t Task) Key() string {
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = strconv.FormatInt(a, 10)
	}
	return t.Name + ":" + strings.Join(parts, ",")
}

// DispatchArgs decodes the arguments of a dispatch task.
func (t Task) DispatchArgs() (uint, int, error) {
	if t.Name != TaskDispatchConversion || len(t.Args) != 2 {
		return 0, 0, fmt.Errorf("not a dispatch task: %s", t.Key())
	}
	if t.Args[0] <= 0 || t.Args[1] < 0 {
		return 0, 0, fmt.Errorf("invalid dispatch arguments: %s", t.Key())
	}
	return uint(t.Args[0]), int(t.Args[1]), nil
}

// OutcomeStatus summarizes one dispatch run.
type OutcomeStatus string

const (
	OutcomeMissing        OutcomeStatus = "missing"
	OutcomeInvalidPayload OutcomeStatus = "invalid_payload"
	OutcomeProcessed      OutcomeStatus = "processed"
	OutcomeRetryScheduled OutcomeStatus = "retry_scheduled"
	OutcomeFailed         OutcomeStatus = "failed"
)

// Retry strategies recorded in the audit log.
const (
	StrategyRetryAfterHeader   = "retry_after_header"
	StrategyExponentialBackoff = "exponential_backoff"
)

// RetryPlan describes the follow-up attempt chosen by a dispatch.
type RetryPlan struct {
	Attempt      int           `json:"attempt"`
	Delay        time.Duration `json:"delay"`
	Strategy     string        `json:"strategy"`
	Destinations []string      `json:"destinations"`
	Immediate    bool          `json:"immediate,omitempty"`
}

// Outcome is the result of Dispatch for one (conversion, attempt).
type Outcome struct {
	ConversionID uint                           `json:"conversion_id"`
	Attempt      int                            `json:"attempt"`
	Status       OutcomeStatus                  `json:"status"`
	Ga4Sent      bool                           `json:"ga4_sent"`
	MetaSent     bool                           `json:"meta_sent"`
	Results      map[string]destinations.Result `json:"results,omitempty"`
	Terminal     []string                       `json:"terminal,omitempty"`
	Exhausted    []string                       `json:"exhausted,omitempty"`
	Retry        *RetryPlan                     `json:"retry,omitempty"`
}

// SentNow counts destinations delivered during this run.
func (o Outcome) SentNow() int {
	n := 0
	for _, r := range o.Results {
		if r.Sent {
			n++
		}
	}
	return n
}
