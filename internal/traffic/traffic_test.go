package traffic

import (
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestRequestCount_Empty verifies that nothing is counted before any outcome.
func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that denials count as requests but
// not as upstream outcomes.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	RecordDenied()
	RecordDenied()
	RecordSuccess()
	if n := DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	errs, total := ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

// TestErrorRate_SuccessAndError verifies the error rate numerator and denominator.
func TestErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordSuccessN(39)
	RecordError()
	errs, total := ErrorRate(time.Minute)
	if errs != 1 || total != 40 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 40)", errs, total)
	}
}

// TestTracker_Window verifies outcomes fall out of a window as time passes
// and are pruned after Retention.
func TestTracker_Window(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.Record(Failure, 2)
	clock.Advance(45 * time.Second)
	tr.Record(Success, 3)

	s, f, _ := tr.Counts(time.Minute)
	if s != 3 || f != 2 {
		t.Errorf("Counts(1m) = (%d, %d), want (3, 2)", s, f)
	}
	s, f, _ = tr.Counts(30 * time.Second)
	if s != 3 || f != 0 {
		t.Errorf("Counts(30s) = (%d, %d), want (3, 0)", s, f)
	}

	clock.Advance(Retention)
	tr.Record(Success, 1)
	tr.mu.Lock()
	n := len(tr.events)
	tr.mu.Unlock()
	if n != 1 {
		t.Errorf("events after retention = %d, want 1", n)
	}
}

// TestTracker_RecordNonPositive verifies n <= 0 records nothing.
func TestTracker_RecordNonPositive(t *testing.T) {
	tr := NewTracker(nil)
	tr.Record(Success, 0)
	tr.Record(Failure, -3)
	if s, f, d := tr.Counts(time.Minute); s+f+d != 0 {
		t.Errorf("Counts() = (%d, %d, %d), want zeros", s, f, d)
	}
}

// TestReset verifies that Reset clears all recorded outcomes.
func TestReset(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordError()
	RecordDenied()
	Reset()
	if n := RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}
