package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/lifecycle"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/service"
	"github.com/kjstillabower/weather-map-service/internal/traffic"
	"github.com/kjstillabower/weather-map-service/internal/validation"
)

// maxBodyBytes caps view and click request bodies.
const maxBodyBytes = 64 << 10

// MapService is the orchestrator surface the handlers drive.
type MapService interface {
	Refresh(ctx context.Context, center models.Coordinate) service.RefreshResult
	Inspect(ctx context.Context, at models.Coordinate) (models.Feature, bool)
}

// LayerSource serves the most recently published layer.
type LayerSource interface {
	Current() (service.Layer, []byte, bool)
	Symbols() []string
}

// IconChecker reports whether an icon URL is reachable.
type IconChecker interface {
	IsReachable(ctx context.Context, rawURL string) bool
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// BreakerOpen, when set, reports whether the upstream circuit is open.
	BreakerOpen func() bool
	// CachePing, when set, checks reachability of a remote cache backend.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	maps             MapService
	layers           LayerSource
	icons            IconChecker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	maps MapService,
	layers LayerSource,
	icons IconChecker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		maps:         maps,
		layers:       layers,
		icons:        icons,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// PostView handles POST /api/v1/view. A "click" event is routed to
// inspection; anything else refreshes the layer for the center.
func (h *Handler) PostView(w http.ResponseWriter, r *http.Request) {
	req, center, ok := decodeCoordinate(w, r)
	if !ok {
		return
	}
	if req.Event == "click" {
		h.inspect(w, r, center)
		return
	}
	writeJSON(w, http.StatusOK, h.maps.Refresh(r.Context(), center))
}

// PostClick handles POST /api/v1/click.
func (h *Handler) PostClick(w http.ResponseWriter, r *http.Request) {
	_, at, ok := decodeCoordinate(w, r)
	if !ok {
		return
	}
	h.inspect(w, r, at)
}

func (h *Handler) inspect(w http.ResponseWriter, r *http.Request, at models.Coordinate) {
	feature, ok := h.maps.Inspect(r.Context(), at)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, feature)
}

// GetLayer handles GET /api/v1/layer. The stored document is written as-is.
func (h *Handler) GetLayer(w http.ResponseWriter, r *http.Request) {
	layer, doc, ok := h.layers.Current()
	if !ok || doc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Layer-Key", layer.Key)
	w.Header().Set("X-Layer-Generation", strconv.FormatUint(layer.Generation, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// GetSymbols handles GET /api/v1/symbols.
func (h *Handler) GetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.layers.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	key := ""
	if layer, _, ok := h.layers.Current(); ok {
		key = layer.Key
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"symbols": symbols,
	})
}

// GetIconCheck handles GET /api/v1/icons/check?url=.
func (h *Handler) GetIconCheck(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_URL", "url is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":       rawURL,
		"reachable": h.icons.IsReachable(r.Context(), rawURL),
	})
}

// decodeCoordinate reads a CoordinateRequest body and writes a 400 on failure.
func decodeCoordinate(w http.ResponseWriter, r *http.Request) (validation.CoordinateRequest, models.Coordinate, bool) {
	var req validation.CoordinateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object with lat and lon")
		return req, models.Coordinate{}, false
	}
	c, err := req.Coordinate()
	if err != nil {
		code := "INVALID_COORDINATE"
		if errors.Is(err, validation.ErrEventInvalid) {
			code = "INVALID_EVENT"
		}
		writeError(w, r, http.StatusBadRequest, code, err.Error())
		return req, models.Coordinate{}, false
	}
	return req, c, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > circuit open > error rate breach > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerOpen != nil && h.healthConfig.BreakerOpen() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
