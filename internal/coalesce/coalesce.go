// Package coalesce collapses concurrent calls for the same key into one
// underlying execution whose result every caller shares.
package coalesce

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// call tracks a single in-flight execution that multiple callers may wait for.
type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
}

// Group coalesces concurrent requests for the same key.
// The zero value is not usable; construct with New.
type Group[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*call[T]
	timeout  time.Duration
}

// New creates a Group. timeout bounds how long a caller waits for a shared
// result (0 waits until the caller's context is done).
func New[T any](timeout time.Duration) *Group[T] {
	return &Group[T]{
		inFlight: make(map[string]*call[T]),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key. If a call for key is already in flight,
// Do waits for it instead of calling fn again; shared reports that case.
//
// fn runs on its own goroutine with a context detached from the caller's
// cancellation, so one caller giving up does not fail the others. The key is
// unregistered before waiters are released, including when fn panics.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	g.mu.Lock()
	c, exists := g.inFlight[key]
	if exists {
		c.waiters++
		g.mu.Unlock()
		v, err = g.wait(ctx, c)
		return v, true, err
	}

	c = &call[T]{done: make(chan struct{})}
	g.inFlight[key] = c
	g.mu.Unlock()

	go g.run(context.WithoutCancel(ctx), key, c, fn)

	v, err = g.wait(ctx, c)
	return v, false, err
}

// run executes fn and settles c.
func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("coalesce %s: panic: %v", key, r)
		}
		g.forget(key)
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

// wait blocks until c settles, ctx is done, or the group timeout elapses.
func (g *Group[T]) wait(ctx context.Context, c *call[T]) (T, error) {
	var zero T
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	select {
	case <-c.done:
		if c.err != nil {
			return zero, c.err
		}
		return c.val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// forget removes the in-flight registration for key.
func (g *Group[T]) forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// InFlight returns the number of keys with an outstanding call.
func (g *Group[T]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
