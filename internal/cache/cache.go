// Package cache holds the short-lived counters used for request rate limiting.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments fixed-window counters. Implementations must be safe for concurrent use.
type Counter interface {
	Ping(ctx context.Context) error
	// IncrWithExpiry increments key, arming its expiry when a new window starts, and returns the new count.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCounter implements Counter on a shared go-redis client, so every
// server process sees the same windows.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter wraps client. Keys are namespaced under prefix.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	key = c.prefix + ":" + key

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Only the first hit of a window arms the expiry, so later hits never extend it.
	if n == 1 {
		if err := c.client.Expire(ctx, key, expiry).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// MemoryCounter is a process-local Counter for deployments without Redis.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]window), now: time.Now}
}

func (c *MemoryCounter) Ping(context.Context) error { return nil }

func (c *MemoryCounter) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = window{expiresAt: now.Add(expiry)}
	}
	w.count++
	c.windows[key] = w

	// Drop stale windows so idle users do not accumulate.
	if len(c.windows) > 1024 {
		for k, v := range c.windows {
			if !now.Before(v.expiresAt) {
				delete(c.windows, k)
			}
		}
	}
	return w.count, nil
}

var (
	_ Counter = (*RedisCounter)(nil)
	_ Counter = (*MemoryCounter)(nil)
)
