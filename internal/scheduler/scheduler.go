// Package scheduler keeps one timer per locally owned job and hands each job
// to a JobRunner when its timer fires.
//
// Schedule and Deschedule are idempotent. Each job's record carries its own
// lock, so scheduling one job never waits on another.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	ctxlog "github.com/ErlanBelekov/alerting-scheduler/internal/log"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
)

// JobRunner executes jobs and is told about job document changes.
type JobRunner interface {
	// RunJob executes one run of job covering [periodStart, periodEnd).
	RunJob(ctx context.Context, job *domain.Job, periodStart, periodEnd time.Time)
	PostIndex(job *domain.Job)
	PostDelete(id string)
}

// Executor runs a dispatched job run. The default starts a goroutine per run.
type Executor func(run func())

type timerState int

const (
	stateIdle timerState = iota // registered, no timer armed
	stateArmed
	stateCancelled
)

type jobRecord struct {
	id string
	mu sync.Mutex

	job              *domain.Job
	state            timerState
	timer            clock.Timer
	expectedNext     *time.Time
	// expectedPrevious anchors the next execution time; actualPrevious is
	// when the timer really fired and only feeds metrics.
	expectedPrevious *time.Time
	actualPrevious   *time.Time

	// set once by Deschedule; read by the timer callback without the lock
	descheduled atomic.Bool
}

// JobMetric is a point-in-time view of one scheduled job.
type JobMetric struct {
	ID                string     `json:"id"`
	LastExecutionTime *time.Time `json:"last_execution_time"`
	RunningOnTime     bool       `json:"running_on_time"`
}

type JobScheduler struct {
	runner   JobRunner
	clock    clock.Clock
	executor Executor
	baseCtx  context.Context
	logger   *slog.Logger

	jobs sync.Map // job id -> *jobRecord
}

type Option func(*JobScheduler)

func WithClock(c clock.Clock) Option {
	return func(s *JobScheduler) { s.clock = c }
}

func WithExecutor(e Executor) Option {
	return func(s *JobScheduler) { s.executor = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *JobScheduler) { s.logger = l }
}

// WithBaseContext sets the context job runs derive from.
func WithBaseContext(ctx context.Context) Option {
	return func(s *JobScheduler) { s.baseCtx = ctx }
}

func New(runner JobRunner, opts ...Option) *JobScheduler {
	s := &JobScheduler{
		runner:   runner,
		clock:    clock.Real(),
		executor: func(run func()) { go run() },
		baseCtx:  context.Background(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "job_scheduler")
	return s
}

// Schedule registers job and arms its timer. It returns true when the job is
// registered, including when it was already armed or can never fire again,
// and false when the job is disabled.
func (s *JobScheduler) Schedule(job *domain.Job) bool {
	if !job.Enabled || job.EnabledTime == nil {
		s.logger.Info("not scheduling disabled job", "job_id", job.ID)
		return false
	}

	fresh := &jobRecord{id: job.ID, job: job}
	for {
		v, loaded := s.jobs.LoadOrStore(job.ID, fresh)
		if !loaded {
			metrics.ScheduledJobs.Inc()
			return s.reschedule(fresh)
		}

		existing := v.(*jobRecord)
		if existing.descheduled.Load() {
			// A deschedule raced with a firing timer; the old record is on its
			// way out. Take its slot.
			if s.jobs.CompareAndSwap(job.ID, existing, fresh) {
				return s.reschedule(fresh)
			}
			continue
		}

		existing.mu.Lock()
		if existing.state == stateArmed {
			existing.mu.Unlock()
			return true
		}
		existing.job = job
		ok := s.armLocked(existing)
		existing.mu.Unlock()
		return ok
	}
}

// ScheduleAll schedules every job and returns those that could not be scheduled.
func (s *JobScheduler) ScheduleAll(jobs ...*domain.Job) []*domain.Job {
	var failed []*domain.Job
	for _, job := range jobs {
		if !s.Schedule(job) {
			failed = append(failed, job)
		}
	}
	return failed
}

// Deschedule cancels the job's timer and forgets it. Unknown ids succeed.
// It returns false when the timer has already fired and its callback has not
// run yet; the callback then drops the job and a retry succeeds.
func (s *JobScheduler) Deschedule(id string) bool {
	v, ok := s.jobs.Load(id)
	if !ok {
		return true
	}
	rec := v.(*jobRecord)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.descheduled.Store(true)
	rec.expectedNext = nil
	rec.expectedPrevious = nil
	rec.actualPrevious = nil

	stopped := true
	if rec.state == stateArmed && rec.timer != nil {
		stopped = rec.timer.Stop()
	}
	rec.state = stateCancelled
	rec.timer = nil

	if !stopped {
		s.logger.Debug("deschedule raced with a firing timer", "job_id", id)
		return false
	}
	s.forget(rec)
	return true
}

// DescheduleAll deschedules every id and returns those that failed.
func (s *JobScheduler) DescheduleAll(ids []string) []string {
	var failed []string
	for _, id := range ids {
		if !s.Deschedule(id) {
			failed = append(failed, id)
		}
	}
	return failed
}

// IsScheduled reports whether id is registered and not descheduled.
func (s *JobScheduler) IsScheduled(id string) bool {
	v, ok := s.jobs.Load(id)
	return ok && !v.(*jobRecord).descheduled.Load()
}

// ScheduledJobs returns the ids of all registered jobs, sorted.
func (s *JobScheduler) ScheduledJobs() []string {
	var ids []string
	s.jobs.Range(func(key, value any) bool {
		if !value.(*jobRecord).descheduled.Load() {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Metrics returns one entry per registered job, sorted by id.
func (s *JobScheduler) Metrics() []JobMetric {
	now := s.clock.Now()
	var out []JobMetric
	s.jobs.Range(func(_, value any) bool {
		rec := value.(*jobRecord)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.descheduled.Load() {
			return true
		}
		var last *time.Time
		if rec.actualPrevious != nil {
			t := *rec.actualPrevious
			last = &t
		}
		out = append(out, JobMetric{
			ID:                rec.job.ID,
			LastExecutionTime: last,
			RunningOnTime:     rec.job.Schedule.RunningOnTime(last, now),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *JobScheduler) PostIndex(job *domain.Job) { s.runner.PostIndex(job) }

func (s *JobScheduler) PostDelete(id string) { s.runner.PostDelete(id) }

func (s *JobScheduler) reschedule(rec *jobRecord) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return s.armLocked(rec)
}

// armLocked computes the next execution time and arms a timer for it.
// Caller holds rec.mu.
func (s *JobScheduler) armLocked(rec *jobRecord) bool {
	job := rec.job
	if job.EnabledTime == nil {
		s.logger.Warn("job has no enabled time", "job_id", job.ID)
		return false
	}

	now := s.clock.Now()
	next, ok := job.Schedule.ExpectedNextExecutionTime(*job.EnabledTime, rec.expectedPrevious, now)
	if !ok {
		s.logger.Info("job has no next execution time, not arming", "job_id", job.ID)
		rec.expectedNext = nil
		rec.state = stateIdle
		return true
	}

	rec.expectedNext = &next
	rec.timer = s.clock.AfterFunc(max(next.Sub(now), 0), func() { s.fire(rec) })
	rec.state = stateArmed
	return true
}

func (s *JobScheduler) fire(rec *jobRecord) {
	rec.mu.Lock()
	if rec.descheduled.Load() {
		rec.mu.Unlock()
		s.forget(rec)
		return
	}
	if rec.state != stateArmed || rec.expectedNext == nil {
		rec.mu.Unlock()
		return
	}

	job := rec.job
	expected := *rec.expectedNext
	periodStart, periodEnd := job.Schedule.PeriodEndingAt(expected)
	now := s.clock.Now()
	rec.expectedPrevious = &expected
	rec.actualPrevious = &now
	s.armLocked(rec)
	rec.mu.Unlock()

	metrics.JobFiresTotal.Inc()
	metrics.JobFireLag.Observe(max(now.Sub(expected), 0).Seconds())

	ctx := ctxlog.WithJobID(s.baseCtx, job.ID)
	s.executor(func() {
		// a Deschedule may have landed after the lock was released
		if rec.descheduled.Load() {
			return
		}
		s.runner.RunJob(ctx, job, periodStart, periodEnd)
	})
}

func (s *JobScheduler) forget(rec *jobRecord) {
	if s.jobs.CompareAndDelete(rec.id, rec) {
		metrics.ScheduledJobs.Dec()
	}
}
