package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ErlanBelekov/alerting-scheduler/internal/health"
	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockSweeps struct {
	metrics sweeper.Metrics
}

func (m *mockSweeps) Metrics() sweeper.Metrics { return m.metrics }

func newTestChecker(p health.Pinger, s health.SweepReporter) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(p, s, logger, reg), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{err: errors.New("db down")}, nil)

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_PostgresUp(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{}, nil)

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	pg, ok := result.Checks["postgres"]
	if !ok {
		t.Fatal("missing postgres check")
	}
	if pg.Status != "up" {
		t.Fatalf("expected postgres up, got %s", pg.Status)
	}
	if _, ok := result.Checks["sweeper"]; ok {
		t.Fatal("sweeper check reported without a sweeper")
	}

	gauge := testGauge(t, reg, "alerting_health_check_up", "postgres")
	if gauge != 1 {
		t.Fatalf("expected gauge 1, got %f", gauge)
	}
}

func TestReadiness_PostgresDown(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{err: errors.New("connection refused")}, nil)

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	pg := result.Checks["postgres"]
	if pg.Status != "down" {
		t.Fatalf("expected postgres down, got %s", pg.Status)
	}
	if pg.Error == "" {
		t.Fatal("expected error message")
	}

	gauge := testGauge(t, reg, "alerting_health_check_up", "postgres")
	if gauge != 0 {
		t.Fatalf("expected gauge 0, got %f", gauge)
	}
}

func TestReadiness_SweeperOnTime(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{}, &mockSweeps{metrics: sweeper.Metrics{LastFullSweepTimeMillis: 1000, FullSweepOnTime: true}})

	result := c.Readiness(context.Background())
	if result.Status != "up" || result.Checks["sweeper"].Status != "up" {
		t.Fatalf("result = %+v", result)
	}
	if gauge := testGauge(t, reg, "alerting_health_check_up", "sweeper"); gauge != 1 {
		t.Fatalf("expected gauge 1, got %f", gauge)
	}
}

func TestReadiness_SweeperBehind(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{}, &mockSweeps{metrics: sweeper.Metrics{LastFullSweepTimeMillis: 900000}})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	sw := result.Checks["sweeper"]
	if sw.Status != "down" || sw.Error != "last full sweep completed 15m0s ago" {
		t.Fatalf("sweeper check = %+v", sw)
	}
	if result.Checks["postgres"].Status != "up" {
		t.Fatal("a late sweep must not mark postgres down")
	}
	if gauge := testGauge(t, reg, "alerting_health_check_up", "sweeper"); gauge != 0 {
		t.Fatalf("expected gauge 0, got %f", gauge)
	}
}

func TestReadiness_GaugeCount(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{}, &mockSweeps{metrics: sweeper.Metrics{FullSweepOnTime: true}})
	c.Readiness(context.Background())

	if n, err := testutil.GatherAndCount(reg, "alerting_health_check_up"); err != nil || n != 2 {
		t.Fatalf("expected 2 dependency series, got %d (%v)", n, err)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, depLabel string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == depLabel {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{dependency=%q} not found", name, depLabel)
	return 0
}
