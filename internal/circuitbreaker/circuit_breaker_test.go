package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("agent", Config{Threshold: 3, Cooloff: time.Minute}, logger)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("expected closed after %d failures, got %s", i+1, b.State())
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen within cooloff, got %v", err)
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	logger := zaptest.NewLogger(t)
	now := time.Unix(1000, 0)
	b := New("agent", Config{Threshold: 1, Cooloff: 60 * time.Second}, logger).
		WithClock(func() time.Time { return now })

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Cooloff elapsed: exactly one probe is admitted.
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted after cooloff, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected second probe denied, got %v", err)
	}

	// Probe success closes the breaker.
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	now := time.Unix(2000, 0)
	b := New("agent", Config{Threshold: 1, Cooloff: 30 * time.Second}, logger).
		WithClock(func() time.Time { return now })

	b.RecordFailure()
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected re-open after probe failure, got %s", b.State())
	}
	// Fresh cooloff window from the re-open.
	now = now.Add(29 * time.Second)
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected denial within fresh cooloff, got %v", err)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := New("agent", Config{Threshold: 3, Cooloff: time.Minute}, zaptest.NewLogger(t))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed, streak should have reset, got %s", b.State())
	}
}

func TestBreakerDisabled(t *testing.T) {
	b := New("agent", Config{Threshold: 0, Cooloff: time.Minute}, zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("disabled breaker must always allow, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("disabled breaker never leaves closed, got %s", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var from, to State
	called := 0
	cfg := Config{Threshold: 2, Cooloff: time.Minute, OnStateChange: func(name string, f, to2 State) {
		called++
		from, to = f, to2
	}}
	b := New("agent", cfg, zaptest.NewLogger(t))
	b.RecordFailure()
	b.RecordFailure()
	if called != 1 {
		t.Fatalf("expected one state change, got %d", called)
	}
	if from != StateClosed || to != StateOpen {
		t.Fatalf("expected closed->open, got %s->%s", from, to)
	}
}
