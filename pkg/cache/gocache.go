package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper wraps the go-cache package behind the Cache interface.
// It is the default backend for development and tests; production runs
// should point CACHE_TYPE at redis so subtitle fills survive restarts.
type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewGoCache creates a local cache based on go-cache package
func NewGoCache(config LocalConfig) Cache {
	return &goCacheWrapper{
		cache: gocache.New(config.DefaultExpiration, config.CleanupInterval),
	}
}

// Get retrieves a value from cache by key
func (gc *goCacheWrapper) Get(ctx context.Context, key string) (string, bool) {
	if value, found := gc.cache.Get(key); found {
		if s, ok := value.(string); ok {
			return s, true
		}
	}
	return "", false
}

// Set stores a value in cache with expiration
func (gc *goCacheWrapper) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	gc.cache.Set(key, value, expiration)
	return nil
}

// SetNX relies on go-cache Add, which fails when the key is present.
// Add 本身是原子的，这里不再加锁
func (gc *goCacheWrapper) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	if err := gc.cache.Add(key, value, expiration); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes a key from cache
func (gc *goCacheWrapper) Delete(ctx context.Context, key string) error {
	gc.cache.Delete(key)
	return nil
}

// Exists checks if a key exists in cache
func (gc *goCacheWrapper) Exists(ctx context.Context, key string) bool {
	_, found := gc.cache.Get(key)
	return found
}

// GetWithTTL retrieves a value and its remaining TTL
func (gc *goCacheWrapper) GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool) {
	if value, expiration, found := gc.cache.GetWithExpiration(key); found {
		s, ok := value.(string)
		if !ok {
			return "", 0, false
		}
		var ttl time.Duration
		if !expiration.IsZero() {
			ttl = time.Until(expiration)
			if ttl < 0 {
				ttl = 0
			}
		}
		return s, ttl, true
	}
	return "", 0, false
}

// Close closes the cache connection (no-op for go-cache)
func (gc *goCacheWrapper) Close() error {
	return nil
}
