package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

// RedisClient is a shared redis connection; each resource class gets a typed
// view over it via NewRedisCache.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects to addr and pings it once.
func NewRedisClient(ctx context.Context, addr string, timeout time.Duration) (*RedisClient, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Ping checks if redis is reachable. Used for health checks.
func (r *RedisClient) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// Close closes the redis client. Call during shutdown.
func (r *RedisClient) Close() error {
	if err := r.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// RedisCache implements Cache for one resource class on a RedisClient.
type RedisCache[T any] struct {
	rc    *RedisClient
	class string
}

// NewRedisCache returns a Cache whose keys are namespaced by class.
func NewRedisCache[T any](rc *RedisClient, class string) *RedisCache[T] {
	return &RedisCache[T]{rc: rc, class: class}
}

// Get implements Cache.Get. Redis enforces the TTL, so a returned value is unexpired.
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, err := c.rc.rdb.Get(ctx, RemoteKey(keyPrefix, c.class, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("redis GET: %w", err)
	}
	v, err := decode[T](raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := c.rc.rdb.Set(ctx, RemoteKey(keyPrefix, c.class, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}
