package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Job scheduler metrics

	ScheduledJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "scheduled_jobs",
		Help:      "Jobs currently registered with the local job scheduler.",
	})

	JobFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "job_fires_total",
		Help:      "Timer firings that dispatched a job run.",
	})

	JobFireLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_fire_lag_seconds",
		Help:      "Time between a job's expected execution time and its timer firing.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	})

	// Sweeper metrics

	FullSweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sweeper",
		Name:      "full_sweeps_total",
		Help:      "Full sweeps run, by outcome.",
	}, []string{"outcome"})

	FullSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sweeper",
		Name:      "full_sweep_duration_seconds",
		Help:      "Time taken for one full sweep of all local shards.",
		Buckets:   prometheus.DefBuckets,
	})

	ShardSweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sweeper",
		Name:      "shard_sweep_failures_total",
		Help:      "Shard sweeps aborted by a search failure.",
	})

	SearchRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sweeper",
		Name:      "search_retries_total",
		Help:      "Shard page searches retried after a transient error.",
	})

	TrackedJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sweeper",
		Name:      "tracked_jobs",
		Help:      "Jobs whose latest version is tracked by the sweeper.",
	})

	// Runner metrics

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "run_duration_seconds",
		Help:      "Duration of one monitor run across all its inputs.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "runs_in_flight",
		Help:      "Monitor runs currently executing.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "runs_completed_total",
		Help:      "Total monitor runs finished, by status.",
	}, []string{"status"})

	RunsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "runs_skipped_total",
		Help:      "Runs dropped because every runner slot was busy.",
	})

	TriggersFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "triggers_fired_total",
		Help:      "Trigger conditions that evaluated true, by severity.",
	}, []string{"severity"})

	// Cluster metrics

	LiveNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cluster",
		Name:      "live_nodes",
		Help:      "Nodes with a fresh heartbeat as of the last poll.",
	})

	LocalShards = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cluster",
		Name:      "local_active_shards",
		Help:      "Job index shards with an active copy on this node.",
	})

	ReaperRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cluster",
		Name:      "reaper_removed_nodes_total",
		Help:      "Stale nodes removed from the membership table.",
	})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cluster",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ScheduledJobs,
		JobFiresTotal,
		JobFireLag,
		FullSweepsTotal,
		FullSweepDuration,
		ShardSweepFailuresTotal,
		SearchRetriesTotal,
		TrackedJobs,
		RunDuration,
		RunsInFlight,
		RunsCompletedTotal,
		RunsSkippedTotal,
		TriggersFiredTotal,
		LiveNodes,
		LocalShards,
		ReaperRemovedTotal,
		ReaperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}
