package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisQueueKey = "voiceai:jobs"

// RedisQueue shares jobs across API replicas: LPUSH on enqueue, BRPOP on
// dequeue, JSON payloads.
type RedisQueue struct {
	rdb     redis.Cmdable
	key     string
	maxLen  int64
	pollFor time.Duration
}

func NewRedisQueue(rdb redis.Cmdable, key string, maxLen int) *RedisQueue {
	if key == "" {
		key = defaultRedisQueueKey
	}
	return &RedisQueue{rdb: rdb, key: key, maxLen: int64(maxLen), pollFor: time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	if q.rdb == nil {
		return errors.New("redis client is nil")
	}
	if q.maxLen > 0 {
		n, err := q.rdb.LLen(ctx, q.key).Result()
		if err != nil {
			return err
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, b).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	if q.rdb == nil {
		return Job{}, errors.New("redis client is nil")
	}
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.rdb.BRPop(ctx, q.pollFor, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, err
		}
		// res is [key, value].
		if len(res) != 2 {
			return Job{}, fmt.Errorf("worker: unexpected BRPOP reply %v", res)
		}
		var j Job
		if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
			return Job{}, fmt.Errorf("worker: decode job: %w", err)
		}
		return j, nil
	}
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
)
