// Package cache provides a Redis-backed read-through cache for account
// profiles, cutting repeat graph API lookups across closely spaced runs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/graph"
)

const keyPrefix = "cryptoscout:profile:"

// redisClient is the slice of the go-redis API the cache consumes.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ProfileCache caches profiles with a TTL. A nil *ProfileCache is valid and
// behaves as a permanent miss, so the pipeline never branches on presence.
type ProfileCache struct {
	client redisClient
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats summarizes cache effectiveness for the run report.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// New connects to Redis. Returns nil (a disabled cache) when no address is
// configured.
func New(cfg config.Redis) *ProfileCache {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	ttl := cfg.ProfileTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &ProfileCache{client: client, ttl: ttl}
}

// Get returns the cached profile for a handle, or (nil, false) on miss.
// Redis errors count as misses; the caller falls through to the API.
func (c *ProfileCache) Get(ctx context.Context, handle string) (*graph.Profile, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, keyPrefix+handle).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.errors.Add(1)
		log.Debug().Err(err).Str("handle", handle).Msg("Profile cache read failed")
		return nil, false
	}

	var profile graph.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		c.errors.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &profile, true
}

// Set stores a profile with the configured TTL. Failures are logged, never
// propagated: the cache is best-effort.
func (c *ProfileCache) Set(ctx context.Context, handle string, profile *graph.Profile) {
	if c == nil || profile == nil {
		return
	}

	data, err := json.Marshal(profile)
	if err != nil {
		c.errors.Add(1)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+handle, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		log.Debug().Err(err).Str("handle", handle).Msg("Profile cache write failed")
	}
}

// Stats returns hit/miss/error counters since startup.
func (c *ProfileCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

// Ping verifies Redis connectivity, for health checks.
func (c *ProfileCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *ProfileCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
