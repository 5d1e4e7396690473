package authz

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryItem struct {
	payload []byte
	expires time.Time
}

// MemoryCache is an in-process Cache for tests and cache-less deployments.
// Values round-trip through JSON so both implementations share semantics.
type MemoryCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryCache builds an empty in-memory cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, items: make(map[string]memoryItem)}
}

// Get loads the entry under key into dest.
func (c *MemoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(item.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores value under key.
func (c *MemoryCache) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[key] = memoryItem{payload: raw, expires: expires}
	c.mu.Unlock()
	return nil
}

// Invalidate removes the given keys.
func (c *MemoryCache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.items, key)
	}
	c.mu.Unlock()
	return nil
}

// Contains reports whether key currently holds a live entry. Test helper.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return item.expires.IsZero() || time.Now().Before(item.expires)
}
