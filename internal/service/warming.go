package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// CenterWarmer fills caches for one map center. Implemented by MapService.
type CenterWarmer interface {
	Warm(ctx context.Context, center models.Coordinate) error
}

// CacheWarmer prefetches the resources behind a fixed list of map centers.
type CacheWarmer struct {
	warmer    CenterWarmer
	logger    *zap.Logger
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds one scheduled run.
func NewCacheWarmer(warmer CenterWarmer, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CacheWarmer{warmer: warmer, logger: logger, timeout: timeout}
}

// Warm refreshes every center concurrently. Returns an error naming the
// centers that produced no data.
func (w *CacheWarmer) Warm(ctx context.Context, centers []models.Coordinate) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("centers", len(centers)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(centers))
	for _, c := range centers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.warmer.Warm(ctx, c); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", c.Key(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("centers", len(centers)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// Start runs Warm immediately and then every interval on a gocron scheduler.
// A zero interval or empty center list schedules nothing.
func (w *CacheWarmer) Start(centers []models.Coordinate, interval time.Duration) error {
	if len(centers) == 0 || interval <= 0 {
		w.logger.Info("cache warming disabled")
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, centers); err != nil {
			w.logger.Warn("cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	w.scheduler = s
	return nil
}

// Stop stops the scheduler. Safe to call when Start scheduled nothing.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
