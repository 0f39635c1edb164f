package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/config"
	httphandler "github.com/kjstillabower/weather-map-service/internal/http"
	"github.com/kjstillabower/weather-map-service/internal/icon"
	"github.com/kjstillabower/weather-map-service/internal/lifecycle"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/service"
)

const upstreamComponent = "nws_api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	backend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}

	fetcher, err := client.NewFetcher(client.FetcherConfig{
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		FailureTTL:     cfg.FailureTTL,
	}, backend.failures, logger)
	if err != nil {
		logger.Fatal("fetcher", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CBFailureThreshold,
			SuccessThreshold: cfg.CBSuccessThreshold,
			Timeout:          cfg.CBTimeout,
			Component:        upstreamComponent,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(upstreamComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", upstreamComponent),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		fetcher.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.WithLabelValues(upstreamComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CBFailureThreshold),
			zap.Duration("timeout", cfg.CBTimeout))
	}

	nws, err := client.NewNWSClient(cfg.UpstreamBaseURL, fetcher)
	if err != nil {
		logger.Fatal("nws client", zap.Error(err))
	}

	prober := icon.NewProber(fetcher, backend.icons, cfg.IconsTTL, cfg.UpstreamTimeout, logger)
	layers := service.NewLayerStore()
	maps := service.NewMapService(nws, backend.caches, prober, layers, service.Options{
		TTLs: service.TTLs{
			Points:       cfg.PointsTTL,
			Stations:     cfg.StationsTTL,
			Observations: cfg.ObservationsTTL,
			Forecasts:    cfg.ForecastsTTL,
		},
		CoalesceTimeout: cfg.CoalesceTimeout,
		FanOutLimit:     cfg.FanOutLimit,
		ProbeLimit:      cfg.ProbeLimit,
	}, logger)

	var warmer *service.CacheWarmer
	if len(cfg.WarmCenters) > 0 {
		warmer = service.NewCacheWarmer(maps, cfg.RequestTimeout, logger)
		startWarming(warmer, cfg.WarmCenters, cfg.WarmInterval, logger)
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
		CachePing:        backend.ping,
	}
	if breaker != nil {
		healthConfig.BreakerOpen = func() bool { return breaker.State() == circuitbreaker.StateOpen }
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(maps, layers, prober, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.String("upstream", cfg.UpstreamBaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	if !lifecycle.BeginShutdown() {
		return
	}
	logger.Info("graceful shutdown triggered")
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed",
			zap.Error(err),
			zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := backend.close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// startWarming warms once when no interval is configured. Otherwise the
// warmer's schedule takes over, and its first run starts immediately.
func startWarming(warmer *service.CacheWarmer, centers []models.Coordinate, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := warmer.Warm(ctx, centers); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		return
	}
	if err := warmer.Start(centers, interval); err != nil {
		logger.Error("cache warming schedule", zap.Error(err))
	}
}

// backend is the set of caches behind one configured cache store.
type backend struct {
	caches   service.Caches
	icons    cache.Cache[bool]
	failures cache.Cache[bool]
	ping     func() error
	close    func() error
}

func newBackend(cfg *config.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup", zap.Error(err))
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return &backend{
			caches: service.Caches{
				Points:       cache.NewMemcachedCache[*models.PointsResponse](mc, "points"),
				Stations:     cache.NewMemcachedCache[*models.StationsResponse](mc, "stations"),
				Observations: cache.NewMemcachedCache[*models.ObservationResponse](mc, "observations"),
				Forecasts:    cache.NewMemcachedCache[*models.ForecastResponse](mc, "forecasts"),
			},
			icons:    cache.NewMemcachedCache[bool](mc, "icons"),
			failures: cache.NewMemcachedCache[bool](mc, "failures"),
			ping:     mc.Ping,
			close:    mc.Close,
		}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisTimeout+time.Second)
		defer cancel()
		rc, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisTimeout)
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
		return &backend{
			caches: service.Caches{
				Points:       cache.NewRedisCache[*models.PointsResponse](rc, "points"),
				Stations:     cache.NewRedisCache[*models.StationsResponse](rc, "stations"),
				Observations: cache.NewRedisCache[*models.ObservationResponse](rc, "observations"),
				Forecasts:    cache.NewRedisCache[*models.ForecastResponse](rc, "forecasts"),
			},
			icons:    cache.NewRedisCache[bool](rc, "icons"),
			failures: cache.NewRedisCache[bool](rc, "failures"),
			ping:     rc.Ping,
			close:    rc.Close,
		}, nil
	default:
		logger.Info("cache backend: in_memory")
		return &backend{
			caches:   service.NewInMemoryCaches(),
			icons:    cache.NewInMemoryCache[bool](),
			failures: cache.NewInMemoryCache[bool](),
			close:    func() error { return nil },
		}, nil
	}
}
