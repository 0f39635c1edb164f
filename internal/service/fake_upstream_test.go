package service

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/icon"
)

// fakeNWS serves a small slice of the weather API around Portland, OR and
// counts requests per path.
type fakeNWS struct {
	server *httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	override map[string]int
}

func newFakeNWS(t *testing.T) *fakeNWS {
	t.Helper()
	f := &fakeNWS{calls: map[string]int{}, override: map[string]int{}}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// fail makes path answer with status from now on.
func (f *fakeNWS) fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override[path] = status
}

func (f *fakeNWS) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeNWS) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeNWS) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	status, failed := f.override[r.URL.Path]
	f.mu.Unlock()

	if failed {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"title":"%s","status":%d}`, http.StatusText(status), status)
		return
	}

	base := f.server.URL
	if r.Method == http.MethodHead {
		if r.URL.Path == "/icons/ok.png" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	switch r.URL.Path {
	case "/points/45.5231,-122.6765":
		fmt.Fprintf(w, `{"type":"Feature","properties":{"gridId":"PQR","gridX":112,"gridY":103,`+
			`"forecast":"%[1]s/gridpoints/PQR/112,103/forecast",`+
			`"observationStations":"%[1]s/gridpoints/PQR/112,103/stations"}}`, base)
	case "/points/45.5900,-122.6000":
		fmt.Fprintf(w, `{"type":"Feature","properties":{"gridId":"PQR","gridX":113,"gridY":110,`+
			`"forecast":"%s/gridpoints/PQR/113,110/forecast"}}`, base)
	case "/points/45.5500,-122.4000":
		fmt.Fprintf(w, `{"type":"Feature","properties":{"gridId":"PQR","gridX":120,"gridY":105,`+
			`"forecast":"%s/gridpoints/PQR/120,105/forecast"}}`, base)
	case "/points/0.0000,0.0000":
		// Outside coverage: no station list.
		_, _ = w.Write([]byte(`{"type":"Feature","properties":{"gridId":""}}`))
	case "/gridpoints/PQR/112,103/stations":
		fmt.Fprintf(w, `{"type":"FeatureCollection","features":[`+
			`{"id":"%[1]s/stations/KPDX","type":"Feature",`+
			`"geometry":{"type":"Point","coordinates":[-122.6,45.59]},`+
			`"properties":{"stationIdentifier":"KPDX","name":"Portland International Airport"}},`+
			`{"id":"%[1]s/stations/KTTD","type":"Feature",`+
			`"geometry":{"type":"Point","coordinates":[-122.4,45.55]},`+
			`"properties":{"stationIdentifier":"KTTD","name":"Troutdale",`+
			`"forecast":"%[1]s/zones/forecast/ORZ006"}}]}`, base)
	case "/stations/KPDX/observations/latest":
		fmt.Fprintf(w, `{"type":"Feature","properties":{"textDescription":"Cloudy",`+
			`"icon":"%s/icons/ok.png","temperature":{"unitCode":"wmoUnit:degC","value":12.2}}}`, base)
	case "/stations/KTTD/observations/latest":
		_, _ = w.Write([]byte(`{"type":"Feature","properties":{"textDescription":"Rain",` +
			`"temperature":{"unitCode":"wmoUnit:degC","value":10}}}`))
	case "/gridpoints/PQR/112,103/forecast", "/gridpoints/PQR/113,110/forecast":
		fmt.Fprintf(w, `{"type":"Feature","properties":{"periods":[`+
			`{"number":1,"name":"Tonight","temperature":48,"icon":"%s/icons/missing.png"}]}}`, base)
	case "/gridpoints/PQR/120,105/forecast":
		_, _ = w.Write([]byte(`{"type":"Feature","properties":{"periods":[` +
			`{"number":1,"name":"This Afternoon","detailedForecast":"Showers."}]}}`))
	case "/zones/forecast/ORZ006":
		// Zone metadata, not a forecast.
		_, _ = w.Write([]byte(`{"type":"Feature","properties":{"id":"ORZ006","type":"public",` +
			`"name":"Greater Portland Metro Area","state":"OR"}}`))
	default:
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"title":"Not Found","status":404}`))
	}
}

// newTestMapService wires a MapService against the fake upstream with real
// fetcher, caches and prober.
func newTestMapService(t *testing.T, nws *fakeNWS) (*MapService, *LayerStore) {
	t.Helper()
	logger := zap.NewNop()
	fetcher, err := client.NewFetcher(client.FetcherConfig{
		UserAgent:      "(weather-map-test, ops@example.com)",
		Timeout:        2 * time.Second,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
	}, cache.NewInMemoryCache[bool](), logger)
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	api, err := client.NewNWSClient(nws.server.URL, fetcher)
	if err != nil {
		t.Fatalf("NewNWSClient() error = %v", err)
	}
	prober := icon.NewProber(fetcher, cache.NewInMemoryCache[bool](), time.Minute, time.Second, logger)
	store := NewLayerStore()
	svc := NewMapService(api, NewInMemoryCaches(), prober, store, Options{
		TTLs:            DefaultTTLs(),
		CoalesceTimeout: 5 * time.Second,
		FanOutLimit:     4,
	}, logger)
	return svc, store
}
