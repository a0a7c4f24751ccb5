// Package health runs dependency probes and folds them into one
// summary the /health endpoint and the CLI report.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Probe statuses. Skipped means the dependency is not configured,
// which never degrades the summary.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusSkipped  = "skipped"
)

// Check is one probe result.
type Check struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	Required  bool                   `json:"required"`
	LatencyMS int64                  `json:"latency_ms"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Probe checks one dependency. Required probes take the whole service
// down with them; optional ones only degrade it.
type Probe interface {
	Name() string
	Required() bool
	Check(ctx context.Context) Check
}

// Report is the full /health response body.
type Report struct {
	Status    string    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns the probe set.
type Manager struct {
	probes  []Probe
	timeout time.Duration
	logger  *zap.Logger
}

// NewManager builds a manager; perProbeTimeout <= 0 defaults to 3s.
func NewManager(logger *zap.Logger, perProbeTimeout time.Duration, probes ...Probe) *Manager {
	if perProbeTimeout <= 0 {
		perProbeTimeout = 3 * time.Second
	}
	return &Manager{probes: probes, timeout: perProbeTimeout, logger: logger}
}

// Register adds a probe.
func (m *Manager) Register(p Probe) {
	m.probes = append(m.probes, p)
}

// Run executes every probe and summarises: error when any required
// probe fails, degraded when any optional probe fails or reports
// degraded, ok otherwise.
func (m *Manager) Run(ctx context.Context) Report {
	report := Report{Status: StatusOK, Timestamp: time.Now().UTC()}
	for _, p := range m.probes {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		check := p.Check(probeCtx)
		cancel()

		report.Checks = append(report.Checks, check)
		switch check.Status {
		case StatusError:
			if check.Required {
				report.Status = StatusError
			} else if report.Status != StatusError {
				report.Status = StatusDegraded
			}
			m.logger.Warn("Health probe failed",
				zap.String("probe", check.Name),
				zap.Bool("required", check.Required),
				zap.String("error", check.Error),
			)
		case StatusDegraded:
			if report.Status == StatusOK {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}
