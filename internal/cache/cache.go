// Package cache is a Redis-backed snapshot cache. Values are stored as JSON
// under a common key prefix with a fixed TTL and are only ever set or
// deleted, never modified in place.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a snapshot lives before Redis expires it.
const DefaultTTL = time.Hour

// Cache provides caching operations using Redis.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	stats  stats
}

type stats struct {
	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errors  atomic.Uint64
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Errors    uint64  `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
	TotalGets uint64  `json:"total_gets"`
}

// Options configures the Redis client built by NewClient.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient builds a Redis client with the pool and timeout settings used
// across the service.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// New creates a cache on top of client. A non-positive ttl means DefaultTTL.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get decodes the value stored under key into dest.
// It reports false with a nil error on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.stats.misses.Add(1)
			return false, nil
		}
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.stats.errors.Add(1)
		return false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}

	c.stats.hits.Add(1)
	return true, nil
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	c.stats.sets.Add(1)
	return nil
}

// Delete removes keys. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}

	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.stats.errors.Add(1)
		return fmt.Errorf("cache delete: %w", err)
	}

	c.stats.deletes.Add(uint64(len(keys)))
	return nil
}

// TTL returns the default time-to-live applied by Set.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()
	totalGets := hits + misses

	var hitRate float64
	if totalGets > 0 {
		hitRate = float64(hits) / float64(totalGets) * 100
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.stats.sets.Load(),
		Deletes:   c.stats.deletes.Load(),
		Errors:    c.stats.errors.Load(),
		HitRate:   hitRate,
		TotalGets: totalGets,
	}
}

// ResetStats zeroes all counters.
func (c *Cache) ResetStats() {
	c.stats.hits.Store(0)
	c.stats.misses.Store(0)
	c.stats.sets.Store(0)
	c.stats.deletes.Store(0)
	c.stats.errors.Store(0)
}

// Ping checks if the Redis connection is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
