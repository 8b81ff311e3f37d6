package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// TaskScheduleKey is the sorted set holding deferred tasks scored by due time
// in unix milliseconds.
const TaskScheduleKey = "task_schedule"

// RedisScheduler stores deferred tasks in a Redis sorted set.
type RedisScheduler struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{client: client, key: TaskScheduleKey, now: time.Now}
}

func member(task Task) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}
	return string(b), nil
}

// Schedule adds task due after delay. An identical pending task keeps its
// original due time.
func (s *RedisScheduler) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	m, err := member(task)
	if err != nil {
		return err
	}
	due := s.now().Add(delay).UnixMilli()
	if err := s.client.ZAddNX(ctx, s.key, redis.Z{Score: float64(due), Member: m}).Err(); err != nil {
		return fmt.Errorf("%w: failed to schedule task %s: %w", ErrSchedulerUnavailable, task.Key(), err)
	}
	log.Debugf("[Scheduler] Scheduled %s in %s", task.Key(), delay)
	return nil
}

func (s *RedisScheduler) IsScheduled(ctx context.Context, task Task) (bool, error) {
	m, err := member(task)
	if err != nil {
		return false, err
	}
	_, err = s.client.ZScore(ctx, s.key, m).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimDue removes and returns up to limit tasks whose due time has passed.
// A task is returned to exactly one caller because only a successful ZREM
// claims it.
func (s *RedisScheduler) ClaimDue(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}

	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		removed, err := s.client.ZRem(ctx, s.key, m).Result()
		if err != nil {
			return tasks, fmt.Errorf("failed to claim task: %w", err)
		}
		if removed == 0 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(m), &task); err != nil {
			log.Errorf("[Scheduler] Dropping malformed task %q: %v", m, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Pending returns the number of scheduled tasks.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}
