package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// taskTTL bounds how long a queued mirror task's payload is retained. The
// reconciler re-derives everything from ledger truth anyway, so an expired
// payload only costs one extra ledger read on the next full sync.
const taskTTL = 7 * 24 * time.Hour

// MirrorQueue implements domain.MirrorQueue with a Redis sorted set scored
// by retry count (fewest retries first) plus a JSON value per task.
type MirrorQueue struct {
	rdb *redis.Client
}

// NewMirrorQueue creates a MirrorQueue backed by the given Client.
func NewMirrorQueue(c *Client) *MirrorQueue {
	return &MirrorQueue{rdb: c.Underlying()}
}

func (q *MirrorQueue) queueKey() string {
	return "mirror:queue"
}

func (q *MirrorQueue) taskKey(id string) string {
	return "mirror:task:" + id
}

// Enqueue stores the task payload and adds its id to the retry queue.
func (q *MirrorQueue) Enqueue(ctx context.Context, t domain.MirrorTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: marshal mirror task: %w", err)
	}

	if err := q.rdb.Set(ctx, q.taskKey(t.ID), data, taskTTL).Err(); err != nil {
		return fmt.Errorf("redis: set mirror task %s: %w", t.ID, err)
	}
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(t.RetryCount),
		Member: t.ID,
	}).Err(); err != nil {
		return fmt.Errorf("redis: queue mirror task %s: %w", t.ID, err)
	}
	return nil
}

// Next returns the task with the fewest retries, or ok=false when the
// queue is empty.
func (q *MirrorQueue) Next(ctx context.Context) (domain.MirrorTask, bool, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return domain.MirrorTask{}, false, fmt.Errorf("redis: mirror queue range: %w", err)
	}
	if len(ids) == 0 {
		return domain.MirrorTask{}, false, nil
	}

	id := ids[0]
	data, err := q.rdb.Get(ctx, q.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Payload expired but the id is still queued; drop the orphan.
		_ = q.rdb.ZRem(ctx, q.queueKey(), id).Err()
		return domain.MirrorTask{}, false, nil
	}
	if err != nil {
		return domain.MirrorTask{}, false, fmt.Errorf("redis: get mirror task %s: %w", id, err)
	}

	var t domain.MirrorTask
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.MirrorTask{}, false, fmt.Errorf("redis: unmarshal mirror task %s: %w", id, err)
	}
	return t, true, nil
}

// Remove deletes a completed task.
func (q *MirrorQueue) Remove(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("redis: remove mirror task %s: %w", id, err)
	}
	if err := q.rdb.Del(ctx, q.taskKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete mirror task %s: %w", id, err)
	}
	return nil
}

// Requeue puts a failed task back with an incremented retry count, pushing
// it behind fresher tasks.
func (q *MirrorQueue) Requeue(ctx context.Context, t domain.MirrorTask) error {
	t.RetryCount++
	return q.Enqueue(ctx, t)
}

// Compile-time interface check.
var _ domain.MirrorQueue = (*MirrorQueue)(nil)
