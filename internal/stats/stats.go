// Package stats assembles the per-node scheduling report served on /_stats.
package stats

import (
	"github.com/ErlanBelekov/alerting-scheduler/internal/runner"
	"github.com/ErlanBelekov/alerting-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
)

type Status string

const (
	StatusGreen Status = "green"
	StatusRed   Status = "red"
)

type SweeperSource interface {
	Metrics() sweeper.Metrics
	TrackedJobs() int
}

type SchedulerSource interface {
	Metrics() []scheduler.JobMetric
}

type ResultSource interface {
	LastResult(id string) (runner.Result, bool)
}

type JobStats struct {
	scheduler.JobMetric
	LastResult *runner.Result `json:"last_result,omitempty"`
}

type NodeStats struct {
	NodeID         string          `json:"node_id"`
	ScheduleStatus Status          `json:"schedule_status"`
	Sweeper        sweeper.Metrics `json:"sweeper"`
	TrackedJobs    int             `json:"tracked_jobs"`
	Jobs           []JobStats      `json:"jobs"`
}

type Collector struct {
	nodeID    string
	sweeper   SweeperSource
	scheduler SchedulerSource
	results   ResultSource
}

// NewCollector builds a collector. results may be nil.
func NewCollector(nodeID string, sw SweeperSource, sched SchedulerSource, results ResultSource) *Collector {
	return &Collector{nodeID: nodeID, sweeper: sw, scheduler: sched, results: results}
}

// Collect reports green when the last full sweep is on time and every
// scheduled job ran on time, red otherwise.
func (c *Collector) Collect() NodeStats {
	sw := c.sweeper.Metrics()
	stats := NodeStats{
		NodeID:         c.nodeID,
		ScheduleStatus: StatusGreen,
		Sweeper:        sw,
		TrackedJobs:    c.sweeper.TrackedJobs(),
		Jobs:           []JobStats{},
	}
	if !sw.FullSweepOnTime {
		stats.ScheduleStatus = StatusRed
	}

	for _, m := range c.scheduler.Metrics() {
		if !m.RunningOnTime {
			stats.ScheduleStatus = StatusRed
		}
		js := JobStats{JobMetric: m}
		if c.results != nil {
			if res, ok := c.results.LastResult(m.ID); ok {
				js.LastResult = &res
			}
		}
		stats.Jobs = append(stats.Jobs, js)
	}
	return stats
}
