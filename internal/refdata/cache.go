package refdata

import (
	"context"
	"sync"
	"time"
)

// Cache holds a loaded VersionSet for a TTL. Readers share a read lock;
// a reload takes the write lock. The zero TTL disables caching.
type Cache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	load     func(ctx context.Context) (VersionSet, error)
	set      VersionSet
	loadedAt time.Time
	valid    bool
}

// NewCache creates a cache over load. now defaults to time.Now.
func NewCache(ttl time.Duration, now func() time.Time, load func(ctx context.Context) (VersionSet, error)) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, load: load}
}

// Get returns the cached set, reloading it when stale or invalidated.
func (c *Cache) Get(ctx context.Context) (VersionSet, error) {
	c.mu.RLock()
	if c.freshLocked() {
		set := c.set
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have reloaded while we waited.
	if c.freshLocked() {
		return c.set, nil
	}

	set, err := c.load(ctx)
	if err != nil {
		return VersionSet{}, err
	}
	c.set = set
	c.loadedAt = c.now()
	c.valid = c.ttl > 0
	return set, nil
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Cache) freshLocked() bool {
	return c.valid && c.now().Sub(c.loadedAt) < c.ttl
}
