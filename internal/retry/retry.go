// Package retry implements the bounded retry envelope used for outbound
// calls to the embedding service, the vector store and the LLM.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls attempt count, backoff shape and test injection points.
type Policy struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the second attempt
	Multiplier   float64       // delay growth factor
	Jitter       float64       // fraction of the delay randomised, 0..1

	// Sleep and Rand are injectable for deterministic tests. When nil,
	// Sleep honours context cancellation and Rand uses math/rand.
	Sleep func(time.Duration)
	Rand  func() float64

	// OnRetry is invoked before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy matches the envelope used by the embedding pipeline.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Do runs fn up to p.MaxAttempts times. Errors for which retryable
// returns false are returned immediately. The last error is returned
// after the budget is exhausted. fn is invoked at most MaxAttempts
// times and the envelope sleeps MaxAttempts-1 times on exhaustion.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	delay := p.InitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := jittered(delay, p.Jitter, rnd)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if p.Sleep != nil {
			p.Sleep(wait)
		} else if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}

// jittered spreads delay by +-jitter: delay * (1 + (rand*2*jitter - jitter)).
func jittered(delay time.Duration, jitter float64, rnd func() float64) time.Duration {
	if jitter <= 0 || delay <= 0 {
		return delay
	}
	factor := 1 + (rnd()*2*jitter - jitter)
	if factor < 0 {
		factor = 0
	}
	return time.Duration(float64(delay) * factor)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
