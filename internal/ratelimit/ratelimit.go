// Package ratelimit implements the per-client token buckets guarding
// the query API: one bucket for request count and, when configured, one
// for request body bytes.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/metrics"
)

// Config controls bucket sizes and refill rates. A BodyBytesPerMinute
// of 0 disables the body bucket.
type Config struct {
	RequestsPerMinute  int
	BucketSize         int
	BodyBytesPerMinute int64
	BodyBucketSize     int64
	IdleTimeout        time.Duration
	PruneInterval      time.Duration
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		IdleTimeout:       60 * time.Second,
		PruneInterval:     500 * time.Millisecond,
	}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed           bool
	RetryAfter        time.Duration
	RemainingRequests int
	LimitedBy         string // "requests" or "body" when not allowed
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

type bucket struct {
	requestTokens float64
	bodyTokens    float64
	lastRefill    time.Time
	lastTouched   time.Time
}

// Limiter holds one bucket pair per client identity. A single mutex
// covers lookup, refill, deduction and pruning; holders never perform
// I/O under it.
type Limiter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

// New creates a limiter. Zero-valued config fields fall back to
// defaults; BucketSize defaults to the per-minute rate.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = cfg.RequestsPerMinute
	}
	if cfg.BodyBytesPerMinute > 0 && cfg.BodyBucketSize <= 0 {
		cfg.BodyBucketSize = cfg.BodyBytesPerMinute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 500 * time.Millisecond
	}
	return &Limiter{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// WithClock overrides the time source for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check consumes one request token and, when a body quota is
// configured, bodyBytes body tokens for the given client.
func (l *Limiter) Check(client string, bodyBytes int64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{
			requestTokens: float64(l.cfg.BucketSize),
			bodyTokens:    float64(l.cfg.BodyBucketSize),
			lastRefill:    now,
		}
		l.buckets[client] = b
		metrics.RateLimiterClients.Set(float64(len(l.buckets)))
	}
	b.lastTouched = now

	// Refill both buckets from elapsed time, clamped to capacity.
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.requestTokens = math.Min(
			float64(l.cfg.BucketSize),
			b.requestTokens+elapsed*l.requestRate(),
		)
		if l.bodyEnabled() {
			b.bodyTokens = math.Min(
				float64(l.cfg.BodyBucketSize),
				b.bodyTokens+elapsed*l.bodyRate(),
			)
		}
		b.lastRefill = now
	}

	needBody := l.bodyEnabled() && bodyBytes > 0
	requestOK := b.requestTokens >= 1
	bodyOK := !needBody || b.bodyTokens >= float64(bodyBytes)

	if requestOK && bodyOK {
		b.requestTokens--
		if needBody {
			b.bodyTokens -= float64(bodyBytes)
		}
		return Decision{Allowed: true, RemainingRequests: int(b.requestTokens)}
	}

	d := Decision{RemainingRequests: int(b.requestTokens)}
	var retry float64
	if !requestOK {
		retry = (1 - b.requestTokens) / l.requestRate()
		d.LimitedBy = "requests"
		metrics.RateLimited.Inc()
	}
	if needBody && !bodyOK {
		bodyRetry := (float64(bodyBytes) - b.bodyTokens) / l.bodyRate()
		if bodyRetry > retry {
			retry = bodyRetry
			d.LimitedBy = "body"
		}
		metrics.RateLimitedBody.Inc()
	}
	d.RetryAfter = time.Duration(retry * float64(time.Second))

	if l.logger != nil {
		l.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.String("limited_by", d.LimitedBy),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
	return d
}

// TrackedClients returns the number of live buckets.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneLocked drops buckets idle past the timeout, at most once per
// prune interval. Caller holds l.mu for the entire operation.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.cfg.PruneInterval {
		return
	}
	l.lastPrune = now
	for client, b := range l.buckets {
		if now.Sub(b.lastTouched) > l.cfg.IdleTimeout {
			delete(l.buckets, client)
		}
	}
	metrics.RateLimiterClients.Set(float64(len(l.buckets)))
}

func (l *Limiter) requestRate() float64 {
	return float64(l.cfg.RequestsPerMinute) / 60.0
}

func (l *Limiter) bodyRate() float64 {
	return float64(l.cfg.BodyBytesPerMinute) / 60.0
}

func (l *Limiter) bodyEnabled() bool {
	return l.cfg.BodyBytesPerMinute > 0
}
