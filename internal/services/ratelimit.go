package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter bounds short-term burst rate per credential identifier. It is
// independent of the store's lifetime quota: both must pass for admission,
// and a rate-limit rejection never consumes a quota unit.
type RateLimiter interface {
	// Allow reports whether one more request is permitted for key within
	// the current window. limit <= 0 falls back to the default ceiling.
	Allow(ctx context.Context, key string, limit int64) bool
}

// RedisRateLimiter is a fixed-window counter in Redis, one key per
// identifier per window.
type RedisRateLimiter struct {
	client       *redis.Client
	window       time.Duration
	defaultLimit int64
	baseKey      string
}

func NewRedisRateLimiter(redisURL string, window time.Duration, defaultLimit int64) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRateLimiter{
		client:       client,
		window:       window,
		defaultLimit: defaultLimit,
		baseKey:      "gateway:rate_limit",
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int64) bool {
	if limit <= 0 {
		limit = r.defaultLimit
	}

	windowID := time.Now().Unix() / int64(r.window.Seconds())
	redisKey := fmt.Sprintf("%s:%s:%d", r.baseKey, key, windowID)

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		// Fail open: a Redis outage should degrade to unthrottled, not
		// take the gateway down with it.
		log.Error().Err(err).Msg("RateLimiter: Redis error")
		return true
	}

	// Set expiry on first increment
	if count == 1 {
		r.client.Expire(ctx, redisKey, 2*r.window)
	}

	return count <= limit
}

// Close closes the Redis client
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

// MemoryRateLimiter keeps a token bucket per identifier, sized so a full
// bucket equals the credential's ceiling over one window. Idle entries are
// dropped by a janitor goroutine.
type MemoryRateLimiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	window       time.Duration
	defaultLimit int64
}

type limiterEntry struct {
	lim      *rate.Limiter
	limit    int64
	lastSeen time.Time
}

func NewMemoryRateLimiter(window time.Duration, defaultLimit int64) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries:      make(map[string]*limiterEntry),
		window:       window,
		defaultLimit: defaultLimit,
	}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int64) bool {
	if limit <= 0 {
		limit = m.defaultLimit
	}

	m.mu.Lock()
	ent, ok := m.entries[key]
	if !ok || ent.limit != limit {
		ent = &limiterEntry{
			lim:   rate.NewLimiter(rate.Limit(float64(limit)/m.window.Seconds()), int(limit)),
			limit: limit,
		}
		m.entries[key] = ent
	}
	ent.lastSeen = time.Now()
	m.mu.Unlock()

	return ent.lim.Allow()
}

// StartJanitor cleans idle entries periodically until ctx is cancelled.
func (m *MemoryRateLimiter) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
}

func (m *MemoryRateLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}
