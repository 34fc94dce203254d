package quota

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCounter is the go-redis-backed Counter implementation (spec.md
// §4.14's optional fast path), grounded on
// Livepeer-FrameWorks-monorepo/pkg/redis's UniversalClient wiring.
type RedisCounter struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisCounter wraps an already-connected client. keyPrefix namespaces
// keys (e.g. "meetcast:quota:concurrent_tasks:").
func NewRedisCounter(client goredis.UniversalClient, keyPrefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: keyPrefix}
}

func (c *RedisCounter) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisCounter) Get(ctx context.Context, userID string) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *RedisCounter) Set(ctx context.Context, userID string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(userID), value, ttl).Err()
}
