// Package traffic keeps a sliding window of upstream outcomes and inbound
// rate-limit denials. The fetcher records upstream successes and transient
// failures; the health handler reads the error rate.
package traffic

import (
	"sync"
	"time"
)

// Retention is how long outcomes are kept; windows longer than this undercount.
const Retention = 5 * time.Minute

// Kind classifies a recorded outcome.
type Kind uint8

const (
	Success Kind = iota
	Failure
	Denied
)

type event struct {
	at   time.Time
	kind Kind
}

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a successful upstream call.
func RecordSuccess() { defaultTracker.Record(Success, 1) }

// RecordError records a transient upstream failure. Expected absences (404)
// are not errors and must not be recorded.
func RecordError() { defaultTracker.Record(Failure, 1) }

// RecordDenied records an inbound request rejected by the rate limiter.
func RecordDenied() { defaultTracker.Record(Denied, 1) }

// RecordSuccessN records n successes at once.
func RecordSuccessN(n int) { defaultTracker.Record(Success, n) }

// RecordErrorN records n failures at once.
func RecordErrorN(n int) { defaultTracker.Record(Failure, n) }

// RequestCount returns successes, errors and denials within window.
func RequestCount(window time.Duration) int {
	s, f, d := defaultTracker.Counts(window)
	return s + f + d
}

// DenialCount returns the denials within window.
func DenialCount(window time.Duration) int {
	_, _, d := defaultTracker.Counts(window)
	return d
}

// ErrorRate returns (errors, successes+errors) within window. Denials are
// not upstream outcomes and are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	s, f, _ := defaultTracker.Counts(window)
	return f, s + f
}

// Reset clears the default tracker. Tests only.
func Reset() { defaultTracker.Reset() }

// Tracker is a time-ordered log of outcomes pruned to Retention.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

// NewTracker returns an empty Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends n outcomes of kind k at the current time.
func (t *Tracker) Record(k Kind, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.events = append(t.events, event{at: now, kind: k})
	}
	t.pruneLocked(now)
}

// Counts returns (successes, failures, denials) recorded within window.
func (t *Tracker) Counts(window time.Duration) (successes, failures, denials int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.kind {
		case Success:
			successes++
		case Failure:
			failures++
		case Denied:
			denials++
		}
	}
	return successes, failures, denials
}

// Reset drops every recorded outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than Retention. Events are appended in
// time order, so the stale ones form a prefix.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-Retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
