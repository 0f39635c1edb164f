package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a TTL key/value store for one resource class.
// Get returns the value only while it is unexpired; Set stores it for ttl.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
}

// InMemoryCache implements Cache using a map guarded by a mutex.
// Expired entries are removed on access; there is no background sweep and no size bound.
type InMemoryCache[T any] struct {
	mu   sync.Mutex
	data map[string]cacheEntry[T]
	now  func() time.Time
}

// cacheEntry stores a cached value with its expiration timestamp.
type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache[T any]() *InMemoryCache[T] {
	return NewInMemoryCacheWithClock[T](time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock[T any](now func() time.Time) *InMemoryCache[T] {
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache[T]{
		data: make(map[string]cacheEntry[T]),
		now:  now,
	}
}

// Get returns (value, true, nil) while now < expiresAt. At or after expiresAt the
// entry is deleted and (zero, false, nil) is returned.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return zero, false, nil
	}

	return entry.value, true, nil
}

// Set stores value with the specified TTL. A non-positive ttl stores nothing.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry[T]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
