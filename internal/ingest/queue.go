package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list that carries ingestion envelopes.
const DefaultQueueKey = "attendance:ingest:queue"

// Queue is the FIFO between request handlers and the Drainer.
// Pop removes the item for good; there is no acknowledgement.
type Queue interface {
	Push(ctx context.Context, msg []byte) error
	// Pop blocks up to timeout and returns ErrQueueEmpty when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context) (int64, error)
}

// RedisQueue is a Redis list: LPUSH on one end, BRPOP on the other.
// Redis makes each pop exclusive across every process draining the key.
type RedisQueue struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisQueue(rdb redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

// Key returns the list name.
func (q *RedisQueue) Key() string { return q.key }

func (q *RedisQueue) Push(ctx context.Context, msg []byte) error {
	if err := q.rdb.LPush(ctx, q.key, msg).Err(); err != nil {
		return fmt.Errorf("queue lpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		b, err := q.rdb.RPop(ctx, q.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("queue rpop %s: %w", q.key, err)
		}
		return b, nil
	}

	// BRPop in go-redis rounds sub-second timeouts up to 1s; Redis itself
	// accepts fractional seconds, so the command is built by hand.
	cmd := redis.NewStringSliceCmd(ctx, "brpop", q.key, formatSeconds(timeout))
	_ = q.rdb.Process(ctx, cmd)
	res, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue brpop %s: %w", q.key, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue brpop %s: unexpected reply of %d elements", q.key, len(res))
	}
	return []byte(res[1]), nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue llen %s: %w", q.key, err)
	}
	return n, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

var _ Queue = (*RedisQueue)(nil)
