package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorquota/internal/clock"
)


// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter throttles requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	// Shared reports whether decisions are visible across instances.
	Shared() bool
}

// RedisLimiter is a token bucket shared by every instance through redis.
type RedisLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewRedisLimiter(client *redis.Client, rate float64, burst int) *RedisLimiter {
	return &RedisLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.bucket.Allow(ctx, ipKey(key), l.rate, l.burst)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

func (l *RedisLimiter) Shared() bool { return true }

func ipKey(key string) string {
	return "rl:ip:" + key
}

// MemoryLimiter is a fixed-window counter held in process memory. Each
// instance counts independently, so it only bounds a single-instance
// deployment.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu    sync.Mutex
	items map[string]*windowEntry
}

type windowEntry struct {
	windowStart time.Time
	count       int
}

// NewMemoryLimiter allows burst requests per burst/rate seconds.
func NewMemoryLimiter(rate float64, burst int, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	window := time.Second
	if rate > 0 && burst > 0 {
		window = time.Duration(math.Ceil(float64(burst)/rate*1000)) * time.Millisecond
	}
	return &MemoryLimiter{
		limit:  burst,
		window: window,
		clock:  clk,
		items:  make(map[string]*windowEntry),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, nil
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.items[key]
	if entry == nil || now.Sub(entry.windowStart) >= l.window {
		l.sweepLocked(now)
		entry = &windowEntry{windowStart: now}
		l.items[key] = entry
	}

	if entry.count >= l.limit {
		return Decision{
			RetryAfter: entry.windowStart.Add(l.window).Sub(now),
		}, nil
	}

	entry.count++
	return Decision{Allowed: true, Remaining: l.limit - entry.count}, nil
}

func (l *MemoryLimiter) Shared() bool { return false }

// sweepLocked drops windows that have closed so idle keys do not accumulate.
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.items {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.items, key)
		}
	}
}
