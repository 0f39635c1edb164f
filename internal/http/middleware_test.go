package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/service"
	"github.com/kjstillabower/weather-map-service/internal/traffic"
)

// TestMiddleware_ThroughRouter verifies a view request passes the full
// middleware chain and gets a correlation ID.
func TestMiddleware_ThroughRouter(t *testing.T) {
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), nil, time.Second)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postJSON("/api/v1/view", `{"lat":47.6,"lon":-122.3}`))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

// TestMiddleware_CorrelationIDPropagated verifies an inbound correlation ID
// is echoed and visible to handlers through the context.
func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	var seen string
	var logger *zap.Logger
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
		logger = observability.LoggerFromContext(r.Context(), nil)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Correlation-ID", "test-corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "test-corr-123" {
		t.Errorf("X-Correlation-ID = %q, want test-corr-123", got)
	}
	if seen != "test-corr-123" {
		t.Errorf("context correlation ID = %q, want test-corr-123", seen)
	}
	if logger == nil {
		t.Error("request logger missing from context")
	}
}

// TestMiddleware_ErrorCarriesRequestID verifies that 400 responses carry
// the request's correlation ID.
func TestMiddleware_ErrorCarriesRequestID(t *testing.T) {
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), nil, time.Second)

	req := postJSON("/api/v1/click", `{"lat":100,"lon":0}`)
	req.Header.Set("X-Correlation-ID", "corr-400")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.RequestID != "corr-400" {
		t.Errorf("requestId = %q, want corr-400", body.Error.RequestID)
	}
}

// TestMiddleware_GetRoute verifies route labels use the mux template and
// fall back to a fixed label for unmatched paths.
func TestMiddleware_GetRoute(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/layer", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/layer", nil))
	if route != "/api/v1/layer" {
		t.Errorf("getRoute = %q, want /api/v1/layer", route)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		if got := getRoute(httptest.NewRequest(http.MethodGet, tt.path, nil)); got != tt.want {
			t.Errorf("getRoute(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// TestMiddleware_MetricsRecorded verifies request totals appear on /metrics
// with the route template label.
func TestMiddleware_MetricsRecorded(t *testing.T) {
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), nil, time.Second)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/symbols", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("metrics missing httpRequestsTotal")
	}
	if !strings.Contains(body, `route="/api/v1/symbols"`) {
		t.Error("metrics missing symbols route label")
	}
}

// TestTimeoutMiddleware_CancelsContextAfterTimeout verifies handlers see a
// deadline and observe cancellation once it passes.
func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var gotErr error
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("context has no deadline")
		}
		<-r.Context().Done()
		gotErr = r.Context().Err()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("context error = %v, want deadline exceeded", gotErr)
	}
}

// TestRouter_TimeoutBoundsRefresh verifies a refresh that outlives the
// request timeout returns once the deadline passes.
func TestRouter_TimeoutBoundsRefresh(t *testing.T) {
	maps := &stubMaps{block: make(chan struct{})}
	defer close(maps.block)
	h := newTestHandler(maps, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), nil, 30*time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postJSON("/api/v1/view", `{"lat":1,"lon":1}`))

	var got service.RefreshResult
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != service.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

// TestRateLimitMiddleware_Returns429WhenExceeded verifies that requests past
// the burst get RATE_LIMITED and are counted as denials.
func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), rate.NewLimiter(1, 2), time.Second)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/symbols", nil))

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var body errorBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if body.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", body.Error.Code)
		}
	}
	if n := traffic.DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount = %d, want 1", n)
	}
}

// TestRateLimitMiddleware_HealthNotLimited verifies /health bypasses the limiter.
func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), rate.NewLimiter(1, 1), time.Second)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

// TestRateLimitMiddleware_NilLimiterPassesThrough verifies a nil limiter disables limiting.
func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := 0
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))
	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if called != 5 {
		t.Errorf("handler called %d times, want 5", called)
	}
}

// TestRouter_MethodNotAllowed verifies routes are method-bound.
func TestRouter_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(nil, nil, nil, nil)
	router := NewRouter(h, zap.NewNop(), nil, time.Second)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/view", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
