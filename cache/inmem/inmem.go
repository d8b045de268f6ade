package inmem

import (
	"sync"
	"time"

	"github.com/sillsdev/serval-sub001/cache"
	"github.com/sillsdev/serval-sub001/errors"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.NotFound("key not found")

var (
	_ cache.Cache[any] = (*Cache[any])(nil)
)

// item represents a cache item with a value and an expiration time.
type item[V any] struct {
	value  V
	expiry time.Time
}

// isExpired checks if the cache item has expired at now.
func (i item[V]) isExpired(now time.Time) bool {
	return now.After(i.expiry)
}

// Cache is a map with per key time-to-live.
type Cache[V any] struct {
	items map[string]item[V]
	mu    sync.Mutex

	stop chan struct{}
	once sync.Once
}

// New creates a cache that sweeps expired items every interval.
// A zero interval disables the sweeper, expired items are then dropped
// lazily on access.
func New[V any](interval time.Duration) *Cache[V] {
	c := &Cache[V]{
		items: make(map[string]item[V]),
		stop:  make(chan struct{}),
	}

	if interval > 0 {
		go c.sweep(interval)
	}

	return c
}

func (c *Cache[V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, item := range c.items {
				if item.isExpired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the sweeper.
func (c *Cache[V]) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
}

// Set adds value under key for ttl.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[V]{
		value:  value,
		expiry: time.Now().Add(ttl),
	}
	return nil
}

// Get retrieves the value stored under key.
func (c *Cache[V]) Get(key string) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, found := c.items[key]
	if !found {
		return zero, ErrNotFound
	}

	if item.isExpired(time.Now()) {
		delete(c.items, key)
		return zero, ErrNotFound
	}

	return item.value, nil
}

// Remove removes the items with the specified keys.
func (c *Cache[V]) Remove(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}
