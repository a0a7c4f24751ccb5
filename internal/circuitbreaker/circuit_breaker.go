// Package circuitbreaker implements the three-state guard protecting
// the agent evaluator from a persistently failing LLM endpoint.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration. A Threshold of 0 disables
// the breaker entirely: Allow always succeeds and nothing is recorded.
type Config struct {
	Threshold     int           // consecutive failures before opening
	Cooloff       time.Duration // time in open before a half-open probe
	OnStateChange func(name string, from, to State)
}

// Breaker tracks consecutive failures against one dependency. One mutex
// guards all state; transitions are atomic.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// New creates a breaker in the closed state.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// WithClock overrides the time source for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call may proceed. In the open state it denies
// until the cooloff elapses, then transitions to half-open and admits
// exactly one probe; further calls are denied until the probe resolves.
func (b *Breaker) Allow() error {
	if b.config.Threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooloff {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure streak. A half-open success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	if b.config.Threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// RecordFailure increments the failure streak. Reaching the threshold
// opens the breaker; a half-open failure re-opens it with a fresh
// cooloff window.
func (b *Breaker) RecordFailure() {
	if b.config.Threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.probeInFlight = false
	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.Threshold {
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// setState transitions to a new state. Caller holds b.mu.
func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
	if b.logger != nil {
		b.logger.Info("Circuit breaker state changed",
			zap.String("name", b.name),
			zap.String("from", prev.String()),
			zap.String("to", state.String()),
		)
	}
}
