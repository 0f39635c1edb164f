// Package icon checks whether symbol image URLs resolve before they are drawn.
package icon

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/coalesce"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// HeadChecker issues an existence check and returns the HTTP status.
type HeadChecker interface {
	Head(ctx context.Context, rawURL string) (int, error)
}

// Prober answers "does this icon URL exist" with a cached, coalesced HEAD.
type Prober struct {
	head    HeadChecker
	results cache.Cache[bool]
	group   *coalesce.Group[bool]
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewProber returns a Prober. ttl applies to both outcomes; timeout bounds one probe.
func NewProber(head HeadChecker, results cache.Cache[bool], ttl, timeout time.Duration, logger *zap.Logger) *Prober {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		head:    head,
		results: results,
		group:   coalesce.New[bool](timeout + time.Second),
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

// IsReachable reports whether rawURL answers a HEAD with exactly 200.
// Non-http(s) URLs are rejected without a network call. Any other failure
// is cached as false for the TTL.
func (p *Prober) IsReachable(ctx context.Context, rawURL string) bool {
	if !isHTTPURL(rawURL) {
		observability.IconProbesTotal.WithLabelValues("rejected").Inc()
		return false
	}

	if ok, hit, err := p.results.Get(ctx, rawURL); err == nil && hit {
		observability.CacheHitsTotal.WithLabelValues("icons").Inc()
		return ok
	} else if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("icons", "get").Inc()
	}
	observability.CacheMissesTotal.WithLabelValues("icons").Inc()

	ok, shared, err := p.group.Do(ctx, rawURL, func(ctx context.Context) (bool, error) {
		return p.probe(ctx, rawURL)
	})
	if shared {
		observability.CoalescedRequestsTotal.WithLabelValues("icons").Inc()
	}
	if err != nil {
		return false
	}
	return ok
}

func (p *Prober) probe(ctx context.Context, rawURL string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	code, err := p.head.Head(probeCtx, rawURL)
	ok := err == nil && code == http.StatusOK
	if ok {
		observability.IconProbesTotal.WithLabelValues("reachable").Inc()
	} else {
		observability.IconProbesTotal.WithLabelValues("unreachable").Inc()
		p.logger.Debug("icon unreachable",
			zap.String("url", rawURL),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	if setErr := p.results.Set(ctx, rawURL, ok, p.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("icons", "set").Inc()
	}
	return ok, nil
}

// FilterReachable probes urls concurrently (at most limit at a time) and
// returns the reachable ones in input order. Duplicates are probed once.
func (p *Prober) FilterReachable(ctx context.Context, urls []string, limit int) []string {
	seen := make(map[string]struct{}, len(urls))
	distinct := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		distinct = append(distinct, u)
	}

	reachable := make([]bool, len(distinct))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range distinct {
		g.Go(func() error {
			reachable[i] = p.IsReachable(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(distinct))
	for i, u := range distinct {
		if reachable[i] {
			out = append(out, u)
		}
	}
	return out
}

func isHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
