package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/layer", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/v1/layer").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("points", "success").Inc()
	UpstreamDuration.WithLabelValues("points", "success").Observe(0.1)
	UpstreamRetriesTotal.WithLabelValues("forecast").Inc()
	UpstreamErrorsTotal.WithLabelValues("observation", "timeout").Inc()
	NegativeCacheSuppressedTotal.WithLabelValues("forecast").Inc()
	CacheHitsTotal.WithLabelValues("points").Inc()
	CacheMissesTotal.WithLabelValues("points").Inc()
	CacheErrorsTotal.WithLabelValues("points", "get").Inc()
	CoalescedRequestsTotal.WithLabelValues("stations").Inc()
	IconProbesTotal.WithLabelValues("reachable").Inc()
	RefreshesTotal.WithLabelValues("published").Inc()
	RefreshDuration.Observe(1)
	BranchFailuresTotal.WithLabelValues("observation").Inc()
	PublishedFeatures.Set(3)
	RecordCircuitBreakerTransition("weather_api", "closed", "open", 1)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	RefreshesTotal.WithLabelValues("unchanged").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "refreshesTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
