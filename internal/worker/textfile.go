package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/metrics"
	"github.com/chessmate/chessmate/internal/tempfiles"
)

// textfileExporter mirrors the worker counters into a node-exporter
// textfile, for hosts scraped via the textfile collector instead of
// the worker's own /metrics port.
type textfileExporter struct {
	path   string
	worker string
	guard  *tempfiles.Guard
	logger *zap.Logger
}

func newTextfileExporter(path string, guard *tempfiles.Guard, logger *zap.Logger) *textfileExporter {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &textfileExporter{path: path, worker: host, guard: guard, logger: logger}
}

// write renders and atomically replaces the textfile. The temp file
// lands in the target directory so the rename never crosses devices.
func (e *textfileExporter) write(processed, failed int64, jobsPerMinute, charsPerSecond float64) {
	var b strings.Builder
	label := metrics.EscapeLabelValue(e.worker)
	fmt.Fprintf(&b, "# TYPE chessmate_worker_jobs_processed_total counter\n")
	fmt.Fprintf(&b, "chessmate_worker_jobs_processed_total{worker=\"%s\"} %d\n", label, processed)
	fmt.Fprintf(&b, "# TYPE chessmate_worker_jobs_failed_total counter\n")
	fmt.Fprintf(&b, "chessmate_worker_jobs_failed_total{worker=\"%s\"} %d\n", label, failed)
	fmt.Fprintf(&b, "# TYPE chessmate_worker_jobs_per_minute gauge\n")
	fmt.Fprintf(&b, "chessmate_worker_jobs_per_minute{worker=\"%s\"} %g\n", label, jobsPerMinute)
	fmt.Fprintf(&b, "# TYPE chessmate_worker_chars_per_second gauge\n")
	fmt.Fprintf(&b, "chessmate_worker_chars_per_second{worker=\"%s\"} %g\n", label, charsPerSecond)

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".chessmate-metrics-*")
	if err != nil {
		e.logger.Warn("Metrics textfile write failed", zap.Error(err))
		return
	}
	e.guard.Register(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		e.logger.Warn("Metrics textfile write failed", zap.Error(err))
		return
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		e.logger.Warn("Metrics textfile rename failed", zap.Error(err))
		return
	}
	e.guard.Release(tmp.Name())
}

// exportTextfile publishes the current counters when a metrics path
// is configured.
func (w *Worker) exportTextfile(now time.Time) {
	if w.textfile == nil {
		return
	}
	jobs, chars := w.window.totals(now)
	w.textfile.write(
		atomic.LoadInt64(&w.processedTotal),
		atomic.LoadInt64(&w.failedTotal),
		float64(jobs)*(time.Minute.Seconds()/w.window.span.Seconds()),
		float64(chars)/w.window.span.Seconds(),
	)
}
