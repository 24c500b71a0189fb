package stats_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/runner"
	"github.com/ErlanBelekov/alerting-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/alerting-scheduler/internal/stats"
	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
)

type fakeSweeper struct {
	metrics sweeper.Metrics
	tracked int
}

func (f fakeSweeper) Metrics() sweeper.Metrics { return f.metrics }
func (f fakeSweeper) TrackedJobs() int         { return f.tracked }

type fakeScheduler []scheduler.JobMetric

func (f fakeScheduler) Metrics() []scheduler.JobMetric { return f }

type fakeResults map[string]runner.Result

func (f fakeResults) LastResult(id string) (runner.Result, bool) {
	r, ok := f[id]
	return r, ok
}

func TestCollect_Status(t *testing.T) {
	onTime := sweeper.Metrics{LastFullSweepTimeMillis: 1000, FullSweepOnTime: true}
	late := sweeper.Metrics{LastFullSweepTimeMillis: 600000, FullSweepOnTime: false}

	tests := []struct {
		name string
		sw   sweeper.Metrics
		jobs fakeScheduler
		want stats.Status
	}{
		{"idle node", onTime, nil, stats.StatusGreen},
		{"all on time", onTime, fakeScheduler{{ID: "a", RunningOnTime: true}, {ID: "b", RunningOnTime: true}}, stats.StatusGreen},
		{"late job", onTime, fakeScheduler{{ID: "a", RunningOnTime: true}, {ID: "b", RunningOnTime: false}}, stats.StatusRed},
		{"late sweep", late, fakeScheduler{{ID: "a", RunningOnTime: true}}, stats.StatusRed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := stats.NewCollector("node-a", fakeSweeper{metrics: tt.sw}, tt.jobs, nil)
			got := c.Collect()
			if got.ScheduleStatus != tt.want {
				t.Errorf("status = %s, want %s", got.ScheduleStatus, tt.want)
			}
			if got.NodeID != "node-a" || len(got.Jobs) != len(tt.jobs) {
				t.Errorf("stats = %+v", got)
			}
		})
	}
}

func TestCollect_AttachesLastResults(t *testing.T) {
	ran := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	c := stats.NewCollector("node-a",
		fakeSweeper{metrics: sweeper.Metrics{FullSweepOnTime: true}, tracked: 2},
		fakeScheduler{{ID: "a", RunningOnTime: true}, {ID: "b", RunningOnTime: true}},
		fakeResults{"a": {RunID: "r-1", Status: domain.RunStatusTriggered, Triggered: []string{"5xx"}, CompletedAt: ran}},
	)

	got := c.Collect()
	if got.TrackedJobs != 2 {
		t.Errorf("tracked = %d", got.TrackedJobs)
	}
	if got.Jobs[0].LastResult == nil || got.Jobs[0].LastResult.RunID != "r-1" {
		t.Errorf("job a = %+v", got.Jobs[0])
	}
	if got.Jobs[1].LastResult != nil {
		t.Errorf("job b has a result: %+v", got.Jobs[1].LastResult)
	}
}
