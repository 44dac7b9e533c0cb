// Package cache provides a Redis-backed TTL key/value cache with
// refresh-ahead, tenant-wide invalidation, and distributed locking.
//
// Read paths never fail: a backend error, a miss, and a corrupt entry all
// look like a miss to the caller. Callers must always be prepared to
// recompute, so the cache degrades to a no-op when Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsepost/delivery-engine/internal/pkg/logger"
)

// DefaultTTL is used when Set is called with a zero TTL.
const DefaultTTL = 5 * time.Minute

// Cache wraps a Redis client with JSON serialization and namespaced keys.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration

	// in-flight background refreshes, keyed by full cache key
	refreshMu sync.Mutex
	refreshes map[string]struct{}
}

// New creates a cache on top of the given Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{
		client:     client,
		defaultTTL: DefaultTTL,
		refreshes:  make(map[string]struct{}),
	}
}

// Key builds the namespaced cache key "<prefix>:<key>".
func Key(prefix, key string) string {
	return prefix + ":" + key
}

// Get loads the value stored under (prefix, key) into dest.
// Returns false on miss, unmarshal failure, or backend unavailability;
// it never returns an error to the caller.
func (c *Cache) Get(ctx context.Context, prefix, key string, dest any) bool {
	full := Key(prefix, key)
	data, err := c.client.Get(ctx, full).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		logger.Warn("cache get failed, treating as miss", "key", full, "error", err.Error())
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		logger.Warn("cache entry corrupt, treating as miss", "key", full, "error", err.Error())
		return false
	}
	return true
}

// Set stores value under (prefix, key) with the given TTL.
// A zero TTL falls back to the default.
func (c *Cache) Set(ctx context.Context, prefix, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", Key(prefix, key), err)
	}
	return c.client.Set(ctx, Key(prefix, key), data, ttl).Err()
}

// Delete removes the entry under (prefix, key).
func (c *Cache) Delete(ctx context.Context, prefix, key string) error {
	return c.client.Del(ctx, Key(prefix, key)).Err()
}

// GetOrSet returns the cached value if present, otherwise computes it with
// fetch, stores it, and returns it. When a cached entry's remaining TTL
// fraction has dropped below refreshThreshold, a detached background refresh
// recomputes the entry; the caller gets the stale value immediately and is
// never blocked by the refresh. Refresh errors are logged, not surfaced.
func (c *Cache) GetOrSet(ctx context.Context, prefix, key string, ttl time.Duration, refreshThreshold float64, dest any, fetch func(context.Context) (any, error)) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if c.Get(ctx, prefix, key, dest) {
		if refreshThreshold > 0 {
			c.maybeRefresh(prefix, key, ttl, refreshThreshold, fetch)
		}
		return nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, prefix, key, value, ttl); err != nil {
		logger.Warn("cache set failed after fetch", "key", Key(prefix, key), "error", err.Error())
	}
	return reencode(value, dest)
}

// maybeRefresh spawns a background refresh when the entry is close to
// expiry. At most one refresh runs per key at a time.
func (c *Cache) maybeRefresh(prefix, key string, ttl time.Duration, threshold float64, fetch func(context.Context) (any, error)) {
	full := Key(prefix, key)

	remaining, err := c.client.TTL(context.Background(), full).Result()
	if err != nil || remaining <= 0 {
		return
	}
	if float64(remaining)/float64(ttl) >= threshold {
		return
	}

	c.refreshMu.Lock()
	if _, busy := c.refreshes[full]; busy {
		c.refreshMu.Unlock()
		return
	}
	c.refreshes[full] = struct{}{}
	c.refreshMu.Unlock()

	go func() {
		defer func() {
			c.refreshMu.Lock()
			delete(c.refreshes, full)
			c.refreshMu.Unlock()
			if r := recover(); r != nil {
				logger.Error("cache refresh panicked", "key", full, "panic", fmt.Sprintf("%v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		value, err := fetch(ctx)
		if err != nil {
			logger.Warn("cache background refresh failed", "key", full, "error", err.Error())
			return
		}
		if err := c.Set(ctx, prefix, key, value, ttl); err != nil {
			logger.Warn("cache background refresh set failed", "key", full, "error", err.Error())
		}
	}()
}

// InvalidateTenant deletes every cache entry whose key contains the tenant
// identifier. Uses SCAN so large keyspaces don't block Redis.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return nil
	}
	var deleted int
	iter := c.client.Scan(ctx, 0, "*"+tenantID+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
	}
	if deleted > 0 {
		logger.Debug("cache invalidated for tenant", "tenant_id", tenantID, "keys", fmt.Sprintf("%d", deleted))
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// reencode copies value into dest via JSON, so fetch results land in the
// caller's typed destination the same way a cache hit would.
func reencode(value, dest any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("reencode: %w", err)
	}
	return json.Unmarshal(data, dest)
}
