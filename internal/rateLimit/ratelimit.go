package rateLimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robertarktes/rink-registrations/internal/cache"
	"github.com/robertarktes/rink-registrations/internal/clock"
	"github.com/robertarktes/rink-registrations/internal/observability"
)

// Counter increments a key that resets after window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	rate    int
	period  time.Duration
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, rate int, period time.Duration, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, rate: rate, period: period, logger: logger}
}

// Allow fails open when the counter backend is unavailable.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.rate <= 0 {
		return true
	}
	n, err := rl.counter.Incr(ctx, key, rl.period)
	if err != nil {
		rl.logger.WithError(err).Warn("rate limit counter unavailable")
		return true
	}
	if n > int64(rl.rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}

type window struct {
	count atomic.Int64
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	windows *cache.Cache[string, *window]
	period  time.Duration
}

func NewMemoryCounter(period time.Duration, clk clock.Clock) *MemoryCounter {
	return &MemoryCounter{windows: cache.New[string, *window](period, 100000, clk), period: period}
}

func (m *MemoryCounter) Incr(ctx context.Context, key string, _ time.Duration) (int64, error) {
	m.windows.SetIfAbsent(key, &window{})
	w, ok := m.windows.Get(key)
	if !ok {
		return 1, nil
	}
	return w.count.Add(1), nil
}
