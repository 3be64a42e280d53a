package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a fixed-window counter for rate limiting.
type Counter struct {
	client redis.UniversalClient
}

func NewCounter(client redis.UniversalClient) *Counter {
	return &Counter{client: client}
}

func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := "rl:" + key
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
