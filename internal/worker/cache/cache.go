// Package cache implements the worker's content-addressed config cache
// and mutable rotation cache. Both sit behind patrickmn/go-cache for
// TTL/bounded storage and golang.org/x/sync/singleflight so concurrent
// pool slots resolving the same cache miss collapse into one fetch
// instead of stampeding the coordinator.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/thrasher-corp/wowlab-fleet/internal/model"
)

// DefaultConfigTTL and DefaultConfigCapacity bound the config cache to
// roughly an hour of freshness and about a thousand distinct configs.
const (
	DefaultConfigTTL      = time.Hour
	DefaultConfigCapacity = 1000
)

// ConfigFetcher fetches canonical SimConfig bytes by content hash.
type ConfigFetcher func(ctx context.Context, hash string) (model.SimConfig, error)

// ConfigCache is the worker's config cache.
type ConfigCache struct {
	store    *gocache.Cache
	fetch    ConfigFetcher
	flight   singleflight.Group
	capacity int
}

// NewConfigCache builds a config cache with the given TTL, calling fetch
// on miss.
func NewConfigCache(ttl time.Duration, capacity int, fetch ConfigFetcher) *ConfigCache {
	return &ConfigCache{
		store:    gocache.New(ttl, ttl/2),
		fetch:    fetch,
		capacity: capacity,
	}
}

// Get resolves a config by hash, populating the cache on miss. A cache
// hit is free: no fetch, no singleflight coordination.
func (c *ConfigCache) Get(ctx context.Context, hash string) (model.SimConfig, error) {
	if v, ok := c.store.Get(hash); ok {
		return v.(model.SimConfig), nil
	}

	v, err, _ := c.flight.Do(hash, func() (any, error) {
		cfg, err := c.fetch(ctx, hash)
		if err != nil {
			return model.SimConfig{}, err
		}
		if c.store.ItemCount() >= c.capacity {
			c.evictOne()
		}
		c.store.SetDefault(hash, cfg)
		return cfg, nil
	})
	if err != nil {
		return model.SimConfig{}, err
	}
	return v.(model.SimConfig), nil
}

// evictOne drops an arbitrary item to keep the cache within its bounded
// capacity (go-cache itself is otherwise unbounded aside from TTL).
func (c *ConfigCache) evictOne() {
	for k := range c.store.Items() {
		c.store.Delete(k)
		return
	}
}

// RotationEntry is a cached (script, checksum) pair.
type RotationEntry struct {
	Script   string
	Checksum string
}

// RotationFetcher fetches a rotation's current script + checksum.
type RotationFetcher func(ctx context.Context, id string) (RotationEntry, error)

// RotationCache is the worker's rotation cache.
type RotationCache struct {
	store  *gocache.Cache
	fetch  RotationFetcher
	flight singleflight.Group
}

// NewRotationCache builds a rotation cache; rotations have no TTL of
// their own (they are invalidated by checksum mismatch, not time), so
// entries are stored with no expiration.
func NewRotationCache(fetch RotationFetcher) *RotationCache {
	return &RotationCache{store: gocache.New(gocache.NoExpiration, 0), fetch: fetch}
}

// GetExpectingChecksum returns the cached entry for id if its checksum
// matches expected. A mismatch returns (zero, false), forcing the caller
// to refetch, and invalidates the stale entry.
func (c *RotationCache) GetExpectingChecksum(id, expected string) (RotationEntry, bool) {
	v, ok := c.store.Get(id)
	if !ok {
		return RotationEntry{}, false
	}
	entry := v.(RotationEntry)
	if entry.Checksum != expected {
		c.store.Delete(id)
		return RotationEntry{}, false
	}
	return entry, true
}

// Resolve returns the cached entry if its checksum matches expected,
// otherwise fetches, caches and returns the fresh one, collapsing
// concurrent misses via singleflight.
func (c *RotationCache) Resolve(ctx context.Context, id, expected string) (RotationEntry, error) {
	if entry, ok := c.GetExpectingChecksum(id, expected); ok {
		return entry, nil
	}

	v, err, _ := c.flight.Do(id, func() (any, error) {
		entry, err := c.fetch(ctx, id)
		if err != nil {
			return RotationEntry{}, err
		}
		c.store.SetDefault(id, entry)
		return entry, nil
	})
	if err != nil {
		return RotationEntry{}, err
	}
	return v.(RotationEntry), nil
}
