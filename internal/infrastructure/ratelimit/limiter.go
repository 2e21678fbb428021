package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wallet-watcher-engine/internal/infrastructure/clock"

	"github.com/redis/go-redis/v9"
)

// Limiter is a per-key fixed-window request counter
type Limiter interface {
	// Allow counts one request for key and reports whether it fits in the window
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisFixedWindow counts requests in Redis. The first request of a window
// creates the counter with the window as its expiry, so the increment and the
// reset are atomic on the server.
type RedisFixedWindow struct {
	client *redis.Client
	window time.Duration
	limit  int64
	prefix string
}

// NewRedisFixedWindow creates a Redis-backed limiter
func NewRedisFixedWindow(client *redis.Client, window time.Duration, limit int) *RedisFixedWindow {
	return &RedisFixedWindow{
		client: client,
		window: window,
		limit:  int64(limit),
		prefix: "ratelimit:",
	}
}

// Allow implements Limiter
func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to count request: %w", err)
	}

	return incr.Val() <= l.limit, nil
}

type window struct {
	start time.Time
	count int64
}

// MemoryFixedWindow counts requests in process. Expired windows are swept
// at most once per window length.
type MemoryFixedWindow struct {
	mu        sync.Mutex
	clock     clock.Clock
	window    time.Duration
	limit     int64
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemoryFixedWindow creates an in-process limiter
func NewMemoryFixedWindow(window time.Duration, limit int, clk clock.Clock) *MemoryFixedWindow {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryFixedWindow{
		clock:     clk,
		window:    window,
		limit:     int64(limit),
		windows:   make(map[string]*window),
		lastSweep: clk.Now(),
	}
}

// Allow implements Limiter
func (l *MemoryFixedWindow) Allow(_ context.Context, key string) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return l.limit >= 1, nil
	}

	w.count++
	return w.count <= l.limit, nil
}

// sweep drops windows that have ended. Callers hold mu.
func (l *MemoryFixedWindow) sweep(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}

// Len reports how many windows are tracked
func (l *MemoryFixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Unlimited allows every request
type Unlimited struct{}

// Allow implements Limiter
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
