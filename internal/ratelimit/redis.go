package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGate shares one fixed window per user across service instances using
// an INCR counter with a TTL. Expiry handles eviction, so there is no scan.
type RedisGate struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	keyPrefix   string
}

func NewRedisGate(client *redis.Client, maxRequests int, windowDuration time.Duration) *RedisGate {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if windowDuration <= 0 {
		windowDuration = DefaultWindow
	}
	return &RedisGate{
		client:      client,
		maxRequests: maxRequests,
		window:      windowDuration,
		keyPrefix:   "bursar:ratelimit:",
	}
}

func (g *RedisGate) key(userID string) string {
	return g.keyPrefix + userID
}

func (g *RedisGate) Allow(ctx context.Context, userID string) (Decision, error) {
	key := g.key(userID)

	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	if count > int64(g.maxRequests) {
		ttl, err := g.client.PTTL(ctx, key).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit ttl: %w", err)
		}
		if ttl < 0 {
			// Counter without expiry (e.g. Expire failed on a crashed
			// instance). Re-arm it so the window eventually clears.
			g.client.Expire(ctx, key, g.window)
			ttl = g.window
		}
		return Decision{Allowed: false, Remaining: 0, ResetTime: time.Now().Add(ttl)}, nil
	}

	return Decision{Allowed: true, Remaining: g.maxRequests - int(count)}, nil
}

func (g *RedisGate) Remaining(ctx context.Context, userID string) (int, error) {
	count, err := g.client.Get(ctx, g.key(userID)).Int()
	if err == redis.Nil {
		return g.maxRequests, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit get: %w", err)
	}
	remaining := g.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
