package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/coalesce"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// resource is one upstream resource class: a TTL cache in front of a
// coalescing group in front of the fetch.
type resource[T any] struct {
	class  string
	cache  cache.Cache[T]
	group  *coalesce.Group[T]
	ttl    time.Duration
	logger *zap.Logger
}

func newResource[T any](class string, c cache.Cache[T], ttl, wait time.Duration, logger *zap.Logger) *resource[T] {
	return &resource[T]{
		class:  class,
		cache:  c,
		group:  coalesce.New[T](wait),
		ttl:    ttl,
		logger: logger,
	}
}

// get returns the value for key from cache, or fetches it once for all
// concurrent callers and caches a successful result. ok is false when the
// resource is absent for any reason; the fetch has already logged why.
func (r *resource[T]) get(ctx context.Context, key string, fetch func(context.Context) (T, error)) (v T, ok bool) {
	cached, hit, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues(r.class, "get").Inc()
		r.logger.Warn("cache get failed", zap.String("class", r.class), zap.String("key", key), zap.Error(err))
	case hit:
		observability.CacheHitsTotal.WithLabelValues(r.class).Inc()
		return cached, true
	}
	observability.CacheMissesTotal.WithLabelValues(r.class).Inc()

	v, shared, err := r.group.Do(ctx, key, func(ctx context.Context) (T, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return fetched, err
		}
		// Cached before the key is released so late callers hit the cache.
		if setErr := r.cache.Set(ctx, key, fetched, r.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues(r.class, "set").Inc()
			r.logger.Warn("cache set failed", zap.String("class", r.class), zap.String("key", key), zap.Error(setErr))
		}
		return fetched, nil
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues(r.class).Inc()
	}
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
