package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const dispatchCountersKey = "dispatch:counters"

// Dispatch outcomes counted per destination.
const (
	OutcomeSent           = "sent"
	OutcomeSkipped        = "skipped"
	OutcomeRetryScheduled = "retry_scheduled"
	OutcomeFailed         = "failed"
	OutcomeExhausted      = "exhausted"
)

// DispatchCounters keeps per destination outcome counts in a Redis hash.
// A nil *DispatchCounters or nil client disables counting.
type DispatchCounters struct {
	client *redis.Client
}

// NewDispatchCounters creates counters backed by client.
func NewDispatchCounters(client *redis.Client) *DispatchCounters {
	return &DispatchCounters{client: client}
}

// Add increments the counter for destination and outcome.
func (d *DispatchCounters) Add(ctx context.Context, destination, outcome string) error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.HIncrBy(ctx, dispatchCountersKey, field(destination, outcome), 1).Err()
}

// Snapshot returns all counters keyed by destination then outcome.
func (d *DispatchCounters) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	out := map[string]map[string]int64{}
	if d == nil || d.client == nil {
		return out, nil
	}

	data, err := d.client.HGetAll(ctx, dispatchCountersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read dispatch counters: %w", err)
	}
	for k, v := range data {
		destination, outcome, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		if out[destination] == nil {
			out[destination] = map[string]int64{}
		}
		out[destination][outcome] = n
	}
	return out, nil
}

func field(destination, outcome string) string {
	return destination + ":" + outcome
}
