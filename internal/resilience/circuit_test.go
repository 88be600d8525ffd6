package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	failN(cb, 3)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	failN(cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	failN(cb, 2)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
	if cb.Failures() != 2 {
		t.Errorf("expected 2 failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_NoCooldownStaysOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	now = now.Add(24 * time.Hour)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected circuit to stay open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open before cooldown, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe to be admitted, got %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second concurrent probe to be rejected, got %v", err)
	}
	cb.Record(nil)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Second})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 2)

	now = now.Add(2 * time.Second)
	failN(cb, 1)
	if cb.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %s", cb.State())
	}
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("got %q, %v", v, err)
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitState(99).String() != "unknown" {
		t.Error("expected unknown")
	}
}
