package worker

import (
	"sync"
	"time"

	"github.com/chessmate/chessmate/internal/metrics"
)

// rateWindow tracks completions over a sliding window to publish the
// jobs-per-minute and chars-per-second gauges.
type rateWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []sample
}

type sample struct {
	at    time.Time
	jobs  int
	chars int
}

func newRateWindow(span time.Duration) *rateWindow {
	return &rateWindow{span: span}
}

func (w *rateWindow) note(now time.Time, jobs, chars int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample{at: now, jobs: jobs, chars: chars})
	w.pruneLocked(now)
}

// publish recomputes the gauges; called after every batch so the
// rates decay even when the queue is idle.
func (w *rateWindow) publish(now time.Time) {
	jobs, chars := w.totals(now)
	metrics.WorkerJobsPerMinute.Set(float64(jobs) * (time.Minute.Seconds() / w.span.Seconds()))
	metrics.WorkerCharsPerSecond.Set(float64(chars) / w.span.Seconds())
}

func (w *rateWindow) totals(now time.Time) (jobs, chars int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	for _, s := range w.samples {
		jobs += s.jobs
		chars += s.chars
	}
	return jobs, chars
}

func (w *rateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.samples[:0]
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	w.samples = kept
}
