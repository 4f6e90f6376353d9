// Package cache holds the Redis-backed positive "seen URL" cache.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"PageHarvester/internal/ports"
)

const (
	keyPrefix  = "seen:"
	defaultTTL = 7 * 24 * time.Hour
)

// RedisSeenCache remembers URLs that are known to be stored. It never answers
// "not stored" on its own; misses fall through to the database.
type RedisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.SeenCache = (*RedisSeenCache)(nil)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisSeenCache wraps client; a non-positive ttl defaults to 7 days.
func NewRedisSeenCache(client *redis.Client, ttl time.Duration) *RedisSeenCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSeenCache{client: client, ttl: ttl}
}

// Seen reports whether pageURL was remembered.
func (c *RedisSeenCache) Seen(ctx context.Context, pageURL string) (bool, error) {
	n, err := c.client.Exists(ctx, Key(pageURL)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Remember marks pageURLs as stored in a single pipeline.
func (c *RedisSeenCache) Remember(ctx context.Context, pageURLs ...string) error {
	if len(pageURLs) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range pageURLs {
			pipe.Set(ctx, Key(u), 1, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remember: %w", err)
	}
	return nil
}

// Key returns the cache key of a page URL.
func Key(pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}
