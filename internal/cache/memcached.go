package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "wxmap:"

// MemcachedClient is a shared memcached connection; each resource class gets a
// typed view over it via NewMemcachedCache.
type MemcachedClient struct {
	client *memcache.Client
}

// NewMemcachedClient creates a MemcachedClient. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedClient(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedClient {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedClient{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *MemcachedClient) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedClient) Close() error {
	return m.client.Close()
}

// MemcachedCache implements Cache for one resource class on a MemcachedClient.
type MemcachedCache[T any] struct {
	mc    *MemcachedClient
	class string
}

// NewMemcachedCache returns a Cache whose keys are namespaced by class.
func NewMemcachedCache[T any](mc *MemcachedClient, class string) *MemcachedCache[T] {
	return &MemcachedCache[T]{mc: mc, class: class}
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.mc.client.Get(RemoteKey(keyPrefix, c.class, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	v, err := decode[T](item.Value)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set. Memcached expiration has one-second resolution, so
// sub-second TTLs round up to one second.
func (c *MemcachedCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ttl <= 0 {
		return nil
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	expSec := int32((ttl + time.Second - 1) / time.Second)
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec > maxRelativeExp {
		expSec = maxRelativeExp
	}
	return c.mc.client.Set(&memcache.Item{
		Key:        RemoteKey(keyPrefix, c.class, key),
		Value:      raw,
		Expiration: expSec,
	})
}
