package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestCircuitBreaker_OpensAfterThreshold verifies consecutive failures open the
// circuit and further calls are rejected without running fn.
func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []string
	cb := New(Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "weather_api",
		Now:              func() time.Time { return now },
		OnStateChange:    func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) },
	})
	fail := errors.New("boom")
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return fail })
	if cb.State() != StateClosed {
		t.Fatalf("State() = %v after 1 failure, want closed", cb.State())
	}
	_ = cb.Call(ctx, func() error { return fail })
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v after 2 failures, want open", cb.State())
	}

	ran := false
	err := cb.Call(ctx, func() error { ran = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() error = %v, want ErrOpen", err)
	}
	if ran {
		t.Error("fn ran while circuit open")
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

// TestCircuitBreaker_HalfOpenRecovery verifies the circuit half-opens after the
// timeout and closes after enough successes.
func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		Now:              func() time.Time { return now },
	})
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errors.New("boom") })
	now = now.Add(11 * time.Second)

	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Call() in half-open error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v after 1 probe success, want half_open", cb.State())
	}
	_ = cb.Call(ctx, func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after 2 probe successes, want closed", cb.State())
	}
}
