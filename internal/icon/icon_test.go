package icon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-map-service/internal/cache"
)

type fakeHead struct {
	mu     sync.Mutex
	calls  map[string]int
	status map[string]int
	err    error
	delay  time.Duration
	total  atomic.Int32
}

func newFakeHead() *fakeHead {
	return &fakeHead{calls: map[string]int{}, status: map[string]int{}}
}

func (f *fakeHead) Head(ctx context.Context, rawURL string) (int, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[rawURL]++
	code, err := f.status[rawURL], f.err
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err != nil {
		return 0, err
	}
	return code, nil
}

func (f *fakeHead) callsFor(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

const okIcon = "https://api.weather.gov/icons/land/day/few?size=medium"

// TestIsReachable_Outcomes verifies only a 200 counts as reachable and non-http URLs
// are rejected without a network call.
func TestIsReachable_Outcomes(t *testing.T) {
	head := newFakeHead()
	head.status[okIcon] = http.StatusOK
	head.status["https://example.com/moved.png"] = http.StatusMovedPermanently
	head.status["https://example.com/gone.png"] = http.StatusNotFound
	p := NewProber(head, cache.NewInMemoryCache[bool](), time.Minute, time.Second, nil)

	tests := []struct {
		url  string
		want bool
	}{
		{okIcon, true},
		{"https://example.com/moved.png", false},
		{"https://example.com/gone.png", false},
		{"ftp://example.com/icon.png", false},
		{"data:image/png;base64,AAAA", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := p.IsReachable(context.Background(), tt.url); got != tt.want {
				t.Errorf("IsReachable(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}

	for _, u := range []string{"ftp://example.com/icon.png", "data:image/png;base64,AAAA", "not a url", ""} {
		if n := head.callsFor(u); n != 0 {
			t.Errorf("Head(%q) calls = %d, want 0", u, n)
		}
	}
}

// TestIsReachable_CachesBothOutcomes verifies true and false results are both cached,
// and network errors are cached as false.
func TestIsReachable_CachesBothOutcomes(t *testing.T) {
	head := newFakeHead()
	head.status[okIcon] = http.StatusOK
	p := NewProber(head, cache.NewInMemoryCache[bool](), time.Minute, time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.IsReachable(ctx, okIcon)
		p.IsReachable(ctx, "https://example.com/missing.png")
	}
	if n := head.callsFor(okIcon); n != 1 {
		t.Errorf("reachable probe calls = %d, want 1", n)
	}
	if n := head.callsFor("https://example.com/missing.png"); n != 1 {
		t.Errorf("unreachable probe calls = %d, want 1", n)
	}

	errHead := newFakeHead()
	errHead.err = errors.New("connection refused")
	p = NewProber(errHead, cache.NewInMemoryCache[bool](), time.Minute, time.Second, nil)
	if p.IsReachable(ctx, okIcon) || p.IsReachable(ctx, okIcon) {
		t.Error("IsReachable() = true on network error")
	}
	if n := errHead.callsFor(okIcon); n != 1 {
		t.Errorf("probe calls after network error = %d, want 1", n)
	}
}

// TestIsReachable_Coalesces verifies concurrent probes for one URL share one HEAD.
func TestIsReachable_Coalesces(t *testing.T) {
	head := newFakeHead()
	head.status[okIcon] = http.StatusOK
	head.delay = 50 * time.Millisecond
	p := NewProber(head, cache.NewInMemoryCache[bool](), time.Minute, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.IsReachable(context.Background(), okIcon) {
				t.Error("IsReachable() = false, want true")
			}
		}()
	}
	wg.Wait()
	if n := head.callsFor(okIcon); n != 1 {
		t.Errorf("probe calls = %d, want 1", n)
	}
}

// TestIsReachable_Timeout verifies a slow probe is bounded and yields false.
func TestIsReachable_Timeout(t *testing.T) {
	head := newFakeHead()
	head.status[okIcon] = http.StatusOK
	head.delay = time.Second
	p := NewProber(head, cache.NewInMemoryCache[bool](), time.Minute, 20*time.Millisecond, nil)

	start := time.Now()
	if p.IsReachable(context.Background(), okIcon) {
		t.Error("IsReachable() = true for timed-out probe")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("IsReachable() took %v, want bounded by probe timeout", elapsed)
	}
}

// TestFilterReachable verifies input order is kept, duplicates probed once, and
// unreachable URLs dropped.
func TestFilterReachable(t *testing.T) {
	a := "https://example.com/a.png"
	b := "https://example.com/b.png"
	c := "https://example.com/c.png"
	head := newFakeHead()
	head.status[a] = http.StatusOK
	head.status[c] = http.StatusOK
	p := NewProber(head, cache.NewInMemoryCache[bool](), time.Minute, time.Second, nil)

	got := p.FilterReachable(context.Background(), []string{c, a, b, a, "", c}, 2)
	want := []string{c, a}
	if len(got) != len(want) {
		t.Fatalf("FilterReachable() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterReachable()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := head.total.Load(); n != 3 {
		t.Errorf("total probes = %d, want 3", n)
	}
}
