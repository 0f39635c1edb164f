package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/traffic"
)

const maxBodyBytes = 8 << 20

// FetcherConfig holds the per-call transport settings shared by every endpoint.
type FetcherConfig struct {
	UserAgent      string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	FailureTTL     time.Duration
	// HTTPClient overrides the default client; tests only.
	HTTPClient *http.Client
}

// Fetcher performs a single logical upstream GET with a bounded timeout,
// retries transient failures, and remembers recent "does not exist" answers
// so they are not re-requested until the marker expires.
type Fetcher struct {
	cfg      FetcherConfig
	client   *http.Client
	failures cache.Cache[bool]
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewFetcher validates cfg and returns a Fetcher. failures is the
// failed-request marker cache; it must not be nil.
func NewFetcher(cfg FetcherConfig, failures cache.Cache[bool], logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("user agent is required by the weather API")
	}
	if failures == nil {
		return nil, errors.New("failure marker cache is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Fetcher{cfg: cfg, client: hc, failures: failures, logger: logger}, nil
}

// SetCircuitBreaker sets the circuit breaker for upstream calls. Optional; nil disables.
func (f *Fetcher) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	f.breaker = cb
}

// GetJSON fetches rawURL and decodes the body into out. key identifies the
// resource for the failed-request marker; endpoint labels metrics and logs.
// Any returned error means "absent" to the caller and has already been logged
// at the appropriate level.
func (f *Fetcher) GetJSON(ctx context.Context, endpoint, key, rawURL string, out any) error {
	markerKey := endpoint + ":" + key
	if failed, ok, _ := f.failures.Get(ctx, markerKey); ok && failed {
		observability.NegativeCacheSuppressedTotal.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: %s recently returned not found", ErrNotFound, markerKey)
	}

	logger := observability.LoggerFromContext(ctx, f.logger).With(
		zap.String("endpoint", endpoint),
		zap.String("key", key),
	)

	body, err := f.getWithRetry(ctx, endpoint, rawURL)
	if err == nil {
		err = decodeJSON(body, out)
	}
	if err == nil {
		traffic.RecordSuccess()
		return nil
	}

	if IsNotFound(err) {
		logger.Debug("upstream resource absent", zap.Error(err))
		if setErr := f.failures.Set(ctx, markerKey, true, f.cfg.FailureTTL); setErr != nil {
			logger.Warn("failed to record failure marker", zap.Error(setErr))
		}
		return err
	}

	traffic.RecordError()
	category := CategorizeError(err)
	observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(category)).Inc()
	logger.Warn("upstream fetch failed",
		zap.String("category", string(category)),
		zap.Error(err),
	)
	return err
}

// Head issues a HEAD request with the fetch timeout and returns the status code.
// It bypasses retries and the failure markers; callers cache the outcome themselves.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (f *Fetcher) getWithRetry(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < f.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.calculateBackoff(attempt)):
			}
		}

		body, err := f.guardedCall(ctx, endpoint, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// guardedCall routes one attempt through the circuit breaker. Not-found is a
// healthy answer from the breaker's point of view.
func (f *Fetcher) guardedCall(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if f.breaker == nil {
		return f.call(ctx, endpoint, rawURL)
	}
	var body []byte
	var callErr error
	err := f.breaker.Call(ctx, func() error {
		body, callErr = f.call(ctx, endpoint, rawURL)
		if callErr != nil && !IsNotFound(callErr) {
			return callErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, callErr
}

func (f *Fetcher) call(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := f.buildRequest(reqCtx, rawURL)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if err := statusToError(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrRejected, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	return req, nil
}

func (f *Fetcher) calculateBackoff(attempt int) time.Duration {
	delay := float64(f.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(f.cfg.RetryMaxDelay) {
		delay = float64(f.cfg.RetryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// problem is the RFC 7807 body the weather API returns with errors.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func statusToError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	se := &StatusError{Code: code}
	var p problem
	if json.Unmarshal(body, &p) == nil {
		se.Title = p.Title
		se.Detail = p.Detail
		se.ProblemStatus = p.Status
	}

	switch {
	case code == http.StatusNotFound:
		se.kind = ErrNotFound
	case code == http.StatusTooManyRequests:
		se.kind = ErrRateLimited
	case code >= 500:
		se.kind = ErrUpstreamFailure
	default:
		se.kind = ErrRejected
	}
	return se
}

func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// isRetryable reports whether another attempt could succeed. Not-found,
// rejected requests and an open circuit are final for this call.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || IsNotFound(err) || errors.Is(err, ErrRejected) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "connection")
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusNotFound {
		return "not_found"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
