package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// NewRouter wires the handler's routes. Only /api/v1 is rate limited and
// bounded by requestTimeout; /health and /metrics stay reachable under load.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/view", h.PostView).Methods(http.MethodPost)
	api.HandleFunc("/click", h.PostClick).Methods(http.MethodPost)
	api.HandleFunc("/layer", h.GetLayer).Methods(http.MethodGet)
	api.HandleFunc("/symbols", h.GetSymbols).Methods(http.MethodGet)
	api.HandleFunc("/icons/check", h.GetIconCheck).Methods(http.MethodGet)
	return router
}
