package service

import (
	"context"
	"errors"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/flatten"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// ErrNoData is returned by Warm when the center has no station list.
var ErrNoData = errors.New("no station data for center")

// Status is the outcome of one Refresh.
type Status string

const (
	StatusPublished Status = "published"
	StatusUnchanged Status = "unchanged"
	StatusNoData    Status = "no_data"
	StatusDiscarded Status = "discarded"
	// StatusPending means the caller stopped waiting; the batch keeps running
	// and publishes on its own.
	StatusPending Status = "pending"
)

// RefreshResult reports what a Refresh did for a center key.
type RefreshResult struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
}

// Symbol property names probed for reachability after merge.
var symbolProperties = []string{"icon", "periods_0_icon"}

// SymbolProber filters icon URLs down to the reachable ones.
type SymbolProber interface {
	FilterReachable(ctx context.Context, urls []string, limit int) []string
}

// Caches holds one cache per upstream resource class.
type Caches struct {
	Points       cache.Cache[*models.PointsResponse]
	Stations     cache.Cache[*models.StationsResponse]
	Observations cache.Cache[*models.ObservationResponse]
	Forecasts    cache.Cache[*models.ForecastResponse]
}

// NewInMemoryCaches returns process-local caches for every class.
func NewInMemoryCaches() Caches {
	return Caches{
		Points:       cache.NewInMemoryCache[*models.PointsResponse](),
		Stations:     cache.NewInMemoryCache[*models.StationsResponse](),
		Observations: cache.NewInMemoryCache[*models.ObservationResponse](),
		Forecasts:    cache.NewInMemoryCache[*models.ForecastResponse](),
	}
}

// TTLs are the fixed per-class cache lifetimes.
type TTLs struct {
	Points       time.Duration
	Stations     time.Duration
	Observations time.Duration
	Forecasts    time.Duration
}

// DefaultTTLs returns the standard lifetimes for each resource class.
func DefaultTTLs() TTLs {
	return TTLs{
		Points:       10 * time.Minute,
		Stations:     10 * time.Minute,
		Observations: 2 * time.Minute,
		Forecasts:    5 * time.Minute,
	}
}

// Options configures a MapService.
type Options struct {
	TTLs            TTLs
	CoalesceTimeout time.Duration
	FanOutLimit     int
	ProbeLimit      int
}

// MapService turns a stationary map center into a published layer of
// stations enriched with their latest observation and forecast.
type MapService struct {
	api          client.WeatherAPI
	points       *resource[*models.PointsResponse]
	stations     *resource[*models.StationsResponse]
	observations *resource[*models.ObservationResponse]
	forecasts    *resource[*models.ForecastResponse]
	prober       SymbolProber
	publisher    Publisher
	fanOut       int
	probeLimit   int
	logger       *zap.Logger

	mu           sync.Mutex
	lastKey      string
	inFlight     map[string]struct{}
	generation   uint64
	publishedGen uint64
	release      func()
}

// NewMapService wires the orchestrator. prober may be nil to skip symbol filtering.
func NewMapService(api client.WeatherAPI, caches Caches, prober SymbolProber, publisher Publisher, opts Options, logger *zap.Logger) *MapService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FanOutLimit <= 0 {
		opts.FanOutLimit = 8
	}
	if opts.ProbeLimit <= 0 {
		opts.ProbeLimit = 4
	}
	ttl := opts.TTLs
	wait := opts.CoalesceTimeout
	return &MapService{
		api:          api,
		points:       newResource("points", caches.Points, ttl.Points, wait, logger),
		stations:     newResource("stations", caches.Stations, ttl.Stations, wait, logger),
		observations: newResource("observations", caches.Observations, ttl.Observations, wait, logger),
		forecasts:    newResource("forecasts", caches.Forecasts, ttl.Forecasts, wait, logger),
		prober:       prober,
		publisher:    publisher,
		fanOut:       opts.FanOutLimit,
		probeLimit:   opts.ProbeLimit,
		logger:       logger,
		inFlight:     make(map[string]struct{}),
	}
}

// Refresh handles a "view became stationary" event for center. It is a no-op
// when the center key is already published or already being refreshed.
// Failures never surface as errors; they show up as missing data.
//
// The batch runs detached from ctx so only per-call timeouts bound it. If ctx
// ends first, Refresh returns StatusPending and the batch still publishes.
func (s *MapService) Refresh(ctx context.Context, center models.Coordinate) RefreshResult {
	key := center.Key()
	gen, started := s.begin(key)
	if !started {
		observability.RefreshesTotal.WithLabelValues(string(StatusUnchanged)).Inc()
		return RefreshResult{Key: key, Status: StatusUnchanged}
	}

	done := make(chan Status, 1)
	go func() {
		done <- s.run(context.WithoutCancel(ctx), gen, key, center)
	}()

	select {
	case status := <-done:
		return RefreshResult{Key: key, Status: status}
	case <-ctx.Done():
		return RefreshResult{Key: key, Status: StatusPending}
	}
}

// run executes one refresh batch and always clears key from the in-flight set.
func (s *MapService) run(ctx context.Context, gen uint64, key string, center models.Coordinate) Status {
	defer s.finish(key)

	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger).With(zap.String("center", key))

	status := StatusNoData
	if fc, ok := s.collect(ctx, center.Normalize(), logger); ok {
		symbols := s.symbols(ctx, fc)
		status = s.publish(gen, key, fc, symbols, logger)
	}

	observability.RefreshesTotal.WithLabelValues(string(status)).Inc()
	observability.RefreshDuration.Observe(time.Since(start).Seconds())
	logger.Info("map refresh complete",
		zap.String("status", string(status)),
		zap.Uint64("generation", gen),
		zap.Duration("duration", time.Since(start)),
	)
	return status
}

// Warm fills the caches for center without publishing.
func (s *MapService) Warm(ctx context.Context, center models.Coordinate) error {
	logger := s.logger.With(zap.String("center", center.Key()), zap.Bool("warming", true))
	if _, ok := s.collect(ctx, center.Normalize(), logger); !ok {
		return ErrNoData
	}
	return nil
}

// Inspect returns the forecast-grid record for a clicked point: point
// geometry with the flattened point metadata merged with its forecast.
func (s *MapService) Inspect(ctx context.Context, at models.Coordinate) (models.Feature, bool) {
	at = at.Normalize()
	point, ok := s.point(ctx, at)
	if !ok {
		return models.Feature{}, false
	}

	var forecast map[string]any
	if u := point.Properties.Forecast; u != "" {
		if fc, ok := s.forecasts.get(ctx, u, func(ctx context.Context) (*models.ForecastResponse, error) {
			return s.api.Forecast(ctx, u)
		}); ok {
			forecast = fc.Properties
		}
	}

	return models.Feature{
		Type:       "Feature",
		Geometry:   models.NewPoint(at),
		Properties: merge(point.Properties.Map(), forecast),
	}, true
}

// begin registers key as in flight and returns its generation. It refuses a
// key equal to the last published one or to any key currently in flight.
func (s *MapService) begin(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy || key == s.lastKey {
		return 0, false
	}
	s.generation++
	s.inFlight[key] = struct{}{}
	return s.generation, true
}

func (s *MapService) finish(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// publish hands fc to the publisher unless a newer generation already
// published, then releases the previous layer.
func (s *MapService) publish(gen uint64, key string, fc models.FeatureCollection, symbols []string, logger *zap.Logger) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen < s.publishedGen {
		logger.Debug("discarding superseded batch", zap.Uint64("published_generation", s.publishedGen))
		return StatusDiscarded
	}

	release, err := s.publisher.Publish(Layer{
		Key:         key,
		Generation:  gen,
		Collection:  fc,
		Symbols:     symbols,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("publish failed", zap.Error(err))
		return StatusDiscarded
	}
	if s.release != nil {
		s.release()
	}
	s.release = release
	s.publishedGen = gen
	s.lastKey = key
	return StatusPublished
}

// collect resolves center to its station list and enriches every station.
func (s *MapService) collect(ctx context.Context, center models.Coordinate, logger *zap.Logger) (models.FeatureCollection, bool) {
	point, ok := s.point(ctx, center)
	if !ok {
		return models.FeatureCollection{}, false
	}
	stationsURL := point.Properties.ObservationStations
	if stationsURL == "" {
		logger.Debug("point has no observation stations")
		return models.FeatureCollection{}, false
	}

	stations, ok := s.stations.get(ctx, stationsURL, func(ctx context.Context) (*models.StationsResponse, error) {
		return s.api.Stations(ctx, stationsURL)
	})
	if !ok {
		return models.FeatureCollection{}, false
	}

	fc := stations.Clone()
	var g errgroup.Group
	g.SetLimit(s.fanOut)
	for i := range fc.Features {
		g.Go(func() error {
			s.enrich(ctx, &fc.Features[i], logger)
			return nil
		})
	}
	_ = g.Wait()
	return fc, true
}

// enrich replaces f.Properties with the flattened merge of its own
// properties, its latest observation and its forecast. Either lookup may be
// missing; the other still contributes.
func (s *MapService) enrich(ctx context.Context, f *models.Feature, logger *zap.Logger) {
	id := f.StationIdentifier()
	logger = logger.With(zap.String("station", id))

	var observation, forecast map[string]any
	var g errgroup.Group
	g.Go(func() error {
		observation = guard(logger, "observation", func() map[string]any {
			return s.observation(ctx, id, logger)
		})
		return nil
	})
	g.Go(func() error {
		forecast = guard(logger, "forecast", func() map[string]any {
			return s.forecastFor(ctx, f, logger)
		})
		return nil
	})
	_ = g.Wait()

	f.Properties = merge(f.Properties, observation, forecast)
}

func (s *MapService) observation(ctx context.Context, id string, logger *zap.Logger) map[string]any {
	if id == "" {
		observability.BranchFailuresTotal.WithLabelValues("observation").Inc()
		logger.Warn("station feature has no identifier")
		return nil
	}
	obs, ok := s.observations.get(ctx, id, func(ctx context.Context) (*models.ObservationResponse, error) {
		return s.api.LatestObservation(ctx, id)
	})
	if !ok {
		observability.BranchFailuresTotal.WithLabelValues("observation").Inc()
		return nil
	}
	return obs.Properties
}

// forecastFor uses the station's precomputed forecast URL when it is a grid
// forecast, otherwise resolves the station's coordinates to a grid point first.
// Station features usually carry a forecast zone URL, which has no periods.
func (s *MapService) forecastFor(ctx context.Context, f *models.Feature, logger *zap.Logger) map[string]any {
	forecastURL := f.StringProperty("forecast")
	if !isGridForecast(forecastURL) {
		at, ok := f.Geometry.Point()
		if !ok {
			observability.BranchFailuresTotal.WithLabelValues("forecast").Inc()
			logger.Warn("station feature has no point coordinates")
			return nil
		}
		point, ok := s.point(ctx, at.Normalize())
		if !ok || point.Properties.Forecast == "" {
			observability.BranchFailuresTotal.WithLabelValues("forecast").Inc()
			return nil
		}
		forecastURL = point.Properties.Forecast
	}

	fc, ok := s.forecasts.get(ctx, forecastURL, func(ctx context.Context) (*models.ForecastResponse, error) {
		return s.api.Forecast(ctx, forecastURL)
	})
	if !ok {
		observability.BranchFailuresTotal.WithLabelValues("forecast").Inc()
		return nil
	}
	return fc.Properties
}

// isGridForecast reports whether raw names a /gridpoints/{office}/{x},{y}/forecast
// resource, optionally the hourly variant.
func isGridForecast(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) == 4:
	case len(parts) == 5 && parts[4] == "hourly":
	default:
		return false
	}
	return parts[0] == "gridpoints" && parts[1] != "" && parts[2] != "" && parts[3] == "forecast"
}

func (s *MapService) point(ctx context.Context, at models.Coordinate) (*models.PointsResponse, bool) {
	return s.points.get(ctx, at.Key(), func(ctx context.Context) (*models.PointsResponse, error) {
		return s.api.Points(ctx, at)
	})
}

// symbols returns the reachable icon URLs referenced by fc.
func (s *MapService) symbols(ctx context.Context, fc models.FeatureCollection) []string {
	if s.prober == nil {
		return nil
	}
	var urls []string
	for _, f := range fc.Features {
		for _, name := range symbolProperties {
			if u := f.StringProperty(name); u != "" {
				urls = append(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		return []string{}
	}
	return s.prober.FilterReachable(ctx, urls, s.probeLimit)
}

// guard contains a panicking branch so sibling stations still publish.
func guard(logger *zap.Logger, branch string, fn func() map[string]any) (props map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			observability.BranchFailuresTotal.WithLabelValues("panic").Inc()
			logger.Warn("station branch panicked", zap.String("branch", branch), zap.Any("panic", r))
			props = nil
		}
	}()
	return fn()
}

// merge overlays sources in order (later wins on key collision) and
// flattens the result into string properties.
func merge(sources ...map[string]any) map[string]any {
	combined := make(map[string]any)
	for _, src := range sources {
		maps.Copy(combined, src)
	}
	flat := flatten.Map(combined)
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
	}
	return out
}
