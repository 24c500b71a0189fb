package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SweepReporter is satisfied by *sweeper.Sweeper.
type SweepReporter interface {
	Metrics() sweeper.Metrics
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that all dependencies are reachable and that full sweeps
// keep pace with the sweep period.
type Checker struct {
	db     Pinger
	sweeps SweepReporter
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
// sweeps may be nil.
func NewChecker(db Pinger, sweeps SweepReporter, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alerting",
		Name:      "health_check_up",
		Help:      "Whether a dependency is healthy. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:     db,
		sweeps: sweeps,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness runs every check and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("postgres health check failed", "error", err)
		c.record(&result, "postgres", err)
	} else {
		c.record(&result, "postgres", nil)
	}

	if c.sweeps != nil {
		var err error
		if m := c.sweeps.Metrics(); !m.FullSweepOnTime {
			err = fmt.Errorf("last full sweep completed %s ago", time.Duration(m.LastFullSweepTimeMillis)*time.Millisecond)
			c.logger.Warn("sweeper health check failed", "error", err)
		}
		c.record(&result, "sweeper", err)
	}

	return result
}

func (c *Checker) record(result *HealthResult, dependency string, err error) {
	if err != nil {
		result.Status = "down"
		result.Checks[dependency] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues(dependency).Set(0)
		return
	}
	result.Checks[dependency] = CheckResult{Status: "up"}
	c.gauge.WithLabelValues(dependency).Set(1)
}
