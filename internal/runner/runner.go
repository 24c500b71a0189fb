// Package runner executes monitor runs handed over by the job scheduler.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	ctxlog "github.com/ErlanBelekov/alerting-scheduler/internal/log"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// InputQuerier queries one monitor input.
type InputQuerier interface {
	Query(ctx context.Context, in domain.Input) domain.InputResult
}

// Result summarises the latest completed run of a monitor.
type Result struct {
	RunID       string           `json:"run_id"`
	Version     int64            `json:"version"`
	Status      domain.RunStatus `json:"status"`
	Triggered   []string         `json:"triggered,omitempty"`
	PeriodEnd   time.Time        `json:"period_end"`
	CompletedAt time.Time        `json:"completed_at"`
}

type Runner struct {
	nodeID  string
	runs    repository.RunRepository
	inputs  InputQuerier
	logger  *slog.Logger
	sem     chan struct{}
	results *lru.Cache // monitor id -> Result
}

func New(
	runs repository.RunRepository,
	inputs InputQuerier,
	logger *slog.Logger,
	nodeID string,
	concurrency int,
	cacheSize int,
) (*Runner, error) {
	results, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &Runner{
		nodeID:  nodeID,
		runs:    runs,
		inputs:  inputs,
		logger:  logger.With("component", "runner"),
		sem:     make(chan struct{}, concurrency),
		results: results,
	}, nil
}

// RunJob executes one run of a monitor. When every slot is busy the run is
// skipped; the next period will run it again.
func (r *Runner) RunJob(ctx context.Context, job *domain.Job, periodStart, periodEnd time.Time) {
	if job.Monitor == nil {
		r.logger.WarnContext(ctx, "job has no monitor body, skipping", "type", job.Type)
		return
	}

	select {
	case r.sem <- struct{}{}:
	default:
		metrics.RunsSkippedTotal.Inc()
		r.logger.WarnContext(ctx, "all runner slots busy, skipping run", "period_end", periodEnd, "slots_total", cap(r.sem))
		return
	}
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()
	defer func() { <-r.sem }()

	r.run(ctx, job, periodStart, periodEnd)
}

func (r *Runner) run(ctx context.Context, job *domain.Job, periodStart, periodEnd time.Time) {
	startedAt := time.Now()

	// Open the run record first so a crash mid-run leaves an incomplete entry.
	run, err := r.runs.CreateRun(ctx, &domain.Run{
		ID:          uuid.NewString(),
		MonitorID:   job.ID,
		NodeID:      r.nodeID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		StartedAt:   startedAt,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "create run record, aborting run", "error", err)
		return
	}
	ctx = ctxlog.WithRunID(ctx, run.ID)

	r.logger.InfoContext(ctx, "running monitor", "monitor", job.Name, "inputs", len(job.Monitor.Inputs), "period_end", periodEnd)

	results := make([]domain.InputResult, 0, len(job.Monitor.Inputs))
	for _, in := range job.Monitor.Inputs {
		results = append(results, r.inputs.Query(ctx, in))
	}
	fired := Evaluate(job.Monitor.Triggers, results)

	run.Status = domain.RunStatusOK
	for _, res := range results {
		if res.Err != nil {
			msg := fmt.Sprintf("%s: %v", res.URL, res.Err)
			run.Error = &msg
			run.Status = domain.RunStatusError
			break
		}
	}
	if len(fired) > 0 {
		run.Status = domain.RunStatusTriggered
	}
	for _, tr := range fired {
		run.Triggered = append(run.Triggered, tr.Name)
		metrics.TriggersFiredTotal.WithLabelValues(string(tr.Severity)).Inc()
		r.logger.WarnContext(ctx, "monitor triggered",
			"monitor", job.Name,
			"trigger", tr.Name,
			"severity", tr.Severity,
			"period_start", periodStart,
			"period_end", periodEnd,
		)
	}

	completedAt := time.Now()
	duration := completedAt.Sub(startedAt)
	durationMS := duration.Milliseconds()
	run.CompletedAt = &completedAt
	run.DurationMS = &durationMS

	if err := r.runs.CompleteRun(ctx, run); err != nil {
		r.logger.ErrorContext(ctx, "complete run record", "error", err)
	}
	metrics.RunDuration.WithLabelValues(string(run.Status)).Observe(duration.Seconds())
	metrics.RunsCompletedTotal.WithLabelValues(string(run.Status)).Inc()

	r.results.Add(job.ID, Result{
		RunID:       run.ID,
		Version:     job.Version,
		Status:      run.Status,
		Triggered:   run.Triggered,
		PeriodEnd:   periodEnd,
		CompletedAt: completedAt,
	})
}

// PostIndex drops the cached result of an older version of job.
func (r *Runner) PostIndex(job *domain.Job) {
	if v, ok := r.results.Peek(job.ID); ok && v.(Result).Version < job.Version {
		r.results.Remove(job.ID)
	}
}

func (r *Runner) PostDelete(id string) {
	r.results.Remove(id)
}

// LastResult returns the latest cached result of a monitor.
func (r *Runner) LastResult(id string) (Result, bool) {
	v, ok := r.results.Get(id)
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}
