package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	ctxlog "github.com/ErlanBelekov/alerting-scheduler/internal/log"
	"github.com/ErlanBelekov/alerting-scheduler/internal/schedule"
	"github.com/ErlanBelekov/alerting-scheduler/internal/scheduler"
)

// ---- fakes ----

type runCall struct {
	jobID      string
	ctxJobID   string
	start, end time.Time
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    []runCall
	indexed []string
	deleted []string
}

func (r *fakeRunner) RunJob(ctx context.Context, job *domain.Job, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runCall{jobID: job.ID, ctxJobID: ctxlog.JobID(ctx), start: start, end: end})
}

func (r *fakeRunner) PostIndex(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, job.ID)
}

func (r *fakeRunner) PostDelete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *fakeRunner) calls() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.runs...)
}

// stubClock hands out timers whose Stop always reports the callback as
// already fired, and keeps the callbacks for the test to run by hand.
type stubClock struct {
	now       time.Time
	callbacks []func()
}

type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

func (c *stubClock) Now() time.Time { return c.now }

func (c *stubClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.callbacks = append(c.callbacks, f)
	return firedTimer{}
}

// ---- helpers ----

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func syncExecutor(run func()) { run() }

func newScheduler(c clock.Clock, r *fakeRunner) *scheduler.JobScheduler {
	return scheduler.New(r, scheduler.WithClock(c), scheduler.WithExecutor(syncExecutor))
}

func intervalJob(t *testing.T, id string, minutes int) *domain.Job {
	t.Helper()
	s, err := schedule.NewInterval(minutes, schedule.Minutes)
	if err != nil {
		t.Fatal(err)
	}
	enabled := t0
	return &domain.Job{ID: id, Version: 1, Type: domain.JobTypeMonitor, Enabled: true, EnabledTime: &enabled, Schedule: s}
}

// ---- Schedule ----

func TestSchedule_RunsOncePerCycle(t *testing.T) {
	c := clock.NewFake(t0)
	r := &fakeRunner{}
	s := newScheduler(c, r)

	if !s.Schedule(intervalJob(t, "m-1", 1)) {
		t.Fatal("schedule returned false")
	}
	if c.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", c.Pending())
	}

	c.Advance(59 * time.Second)
	if n := len(r.calls()); n != 0 {
		t.Fatalf("ran %d times before the first boundary", n)
	}

	c.Advance(time.Second)
	calls := r.calls()
	if len(calls) != 1 {
		t.Fatalf("runs = %d, want 1", len(calls))
	}
	if !calls[0].start.Equal(t0) || !calls[0].end.Equal(t0.Add(time.Minute)) {
		t.Errorf("period = [%v, %v)", calls[0].start, calls[0].end)
	}
	if calls[0].ctxJobID != "m-1" {
		t.Errorf("run context job id = %q", calls[0].ctxJobID)
	}

	c.Advance(time.Minute)
	if n := len(r.calls()); n != 2 {
		t.Fatalf("runs after second cycle = %d, want 2", n)
	}
	if c.Pending() != 1 {
		t.Errorf("pending timers = %d, want exactly 1 re-armed", c.Pending())
	}
}

func TestSchedule_Idempotent(t *testing.T) {
	c := clock.NewFake(t0)
	r := &fakeRunner{}
	s := newScheduler(c, r)
	job := intervalJob(t, "m-1", 5)

	for range 3 {
		if !s.Schedule(job) {
			t.Fatal("schedule returned false")
		}
	}
	if c.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", c.Pending())
	}

	c.Advance(5 * time.Minute)
	if n := len(r.calls()); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestSchedule_DisabledJobIsRejected(t *testing.T) {
	c := clock.NewFake(t0)
	s := newScheduler(c, &fakeRunner{})
	job := intervalJob(t, "m-1", 1)
	job.Enabled = false
	job.EnabledTime = nil

	if s.Schedule(job) {
		t.Error("disabled job must not be scheduled")
	}
	if len(s.ScheduledJobs()) != 0 || c.Pending() != 0 {
		t.Error("disabled job left state behind")
	}
}

func TestSchedule_NoNextExecutionArmsNothing(t *testing.T) {
	c := clock.NewFake(t0)
	r := &fakeRunner{}
	s := newScheduler(c, r)

	cron, err := schedule.NewCron("0/5 * 30 2 *", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	enabled := t0
	job := &domain.Job{ID: "feb-30", Enabled: true, EnabledTime: &enabled, Schedule: cron}

	if !s.Schedule(job) {
		t.Fatal("schedule returned false")
	}
	if c.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", c.Pending())
	}
	if ids := s.ScheduledJobs(); len(ids) != 1 || ids[0] != "feb-30" {
		t.Errorf("scheduled = %v", ids)
	}
	if !s.Deschedule("feb-30") {
		t.Error("deschedule of an unarmed job must succeed")
	}
}

func TestScheduleAll_ReturnsFailures(t *testing.T) {
	s := newScheduler(clock.NewFake(t0), &fakeRunner{})
	ok := intervalJob(t, "ok", 1)
	disabled := intervalJob(t, "off", 1)
	disabled.Enabled = false

	failed := s.ScheduleAll(ok, disabled)
	if len(failed) != 1 || failed[0].ID != "off" {
		t.Errorf("failed = %v", failed)
	}
}

// ---- Deschedule ----

func TestDeschedule_CancelsTimer(t *testing.T) {
	c := clock.NewFake(t0)
	r := &fakeRunner{}
	s := newScheduler(c, r)

	s.Schedule(intervalJob(t, "m-1", 1))
	if !s.Deschedule("m-1") {
		t.Fatal("deschedule returned false")
	}
	if c.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", c.Pending())
	}
	c.Advance(time.Hour)
	if n := len(r.calls()); n != 0 {
		t.Errorf("descheduled job ran %d times", n)
	}
	if len(s.ScheduledJobs()) != 0 {
		t.Errorf("scheduled = %v", s.ScheduledJobs())
	}
}

func TestDeschedule_UnknownJobSucceeds(t *testing.T) {
	s := newScheduler(clock.NewFake(t0), &fakeRunner{})
	if !s.Deschedule("nope") {
		t.Error("unknown id must deschedule")
	}
	if failed := s.DescheduleAll([]string{"a", "b"}); len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
}

func TestDeschedule_RacingTimerCallbackCleansUp(t *testing.T) {
	c := &stubClock{now: t0}
	r := &fakeRunner{}
	s := newScheduler(c, r)

	s.Schedule(intervalJob(t, "m-1", 1))
	if s.Deschedule("m-1") {
		t.Fatal("deschedule must report the in-flight callback")
	}
	if len(s.ScheduledJobs()) != 0 {
		t.Error("job still listed after deschedule")
	}

	c.callbacks[0]()
	if n := len(r.calls()); n != 0 {
		t.Errorf("descheduled job ran %d times", n)
	}
	if !s.Deschedule("m-1") {
		t.Error("retry after the callback ran must succeed")
	}
}

func TestSchedule_ReplacesDescheduledLeftover(t *testing.T) {
	c := &stubClock{now: t0}
	r := &fakeRunner{}
	s := newScheduler(c, r)
	job := intervalJob(t, "m-1", 1)

	s.Schedule(job)
	s.Deschedule("m-1") // callback still pending
	if !s.Schedule(job) {
		t.Fatal("reschedule returned false")
	}
	if len(c.callbacks) != 2 {
		t.Fatalf("timers armed = %d, want 2", len(c.callbacks))
	}

	// the stale callback must not remove the fresh registration
	c.callbacks[0]()
	if ids := s.ScheduledJobs(); len(ids) != 1 {
		t.Fatalf("scheduled = %v", ids)
	}

	c.now = t0.Add(time.Minute)
	c.callbacks[1]()
	if n := len(r.calls()); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestSchedule_LateTimersKeepThePhase(t *testing.T) {
	c := &stubClock{now: t0}
	r := &fakeRunner{}
	s := newScheduler(c, r)
	s.Schedule(intervalJob(t, "m-1", 1))

	// each timer is delivered a little later than the last
	for i, late := range []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second} {
		c.now = t0.Add(time.Duration(i+1)*time.Minute + late)
		c.callbacks[i]()
	}

	runs := r.calls()
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	for i, run := range runs {
		wantStart := t0.Add(time.Duration(i) * time.Minute)
		if !run.start.Equal(wantStart) || !run.end.Equal(wantStart.Add(time.Minute)) {
			t.Errorf("run %d window = [%s, %s], want [%s, %s]", i, run.start, run.end, wantStart, wantStart.Add(time.Minute))
		}
	}

	m := s.Metrics()
	if want := t0.Add(3*time.Minute + 9*time.Second); m[0].LastExecutionTime == nil || !m[0].LastExecutionTime.Equal(want) {
		t.Errorf("last execution = %v, want the actual fire time %s", m[0].LastExecutionTime, want)
	}
}

func TestDeschedule_AfterFireSkipsPendingRun(t *testing.T) {
	c := clock.NewFake(t0)
	r := &fakeRunner{}
	var pending []func()
	s := scheduler.New(r, scheduler.WithClock(c), scheduler.WithExecutor(func(run func()) {
		pending = append(pending, run)
	}))
	s.Schedule(intervalJob(t, "m-1", 1))

	c.Advance(time.Minute)
	if len(pending) != 1 {
		t.Fatalf("dispatched runs = %d, want 1", len(pending))
	}
	if !s.Deschedule("m-1") {
		t.Fatal("deschedule of a re-armed job must succeed")
	}

	pending[0]()
	if n := len(r.calls()); n != 0 {
		t.Errorf("descheduled job ran %d times", n)
	}
}

// ---- Metrics ----

func TestMetrics_TracksLastExecution(t *testing.T) {
	c := clock.NewFake(t0)
	s := newScheduler(c, &fakeRunner{})
	s.Schedule(intervalJob(t, "b", 1))
	s.Schedule(intervalJob(t, "a", 10))

	m := s.Metrics()
	if len(m) != 2 || m[0].ID != "a" || m[1].ID != "b" {
		t.Fatalf("metrics = %+v", m)
	}
	if m[0].LastExecutionTime != nil || !m[0].RunningOnTime {
		t.Errorf("never-run job = %+v", m[0])
	}

	c.Advance(time.Minute)
	m = s.Metrics()
	if m[1].LastExecutionTime == nil || !m[1].LastExecutionTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("last execution = %v", m[1].LastExecutionTime)
	}
	if !m[1].RunningOnTime {
		t.Error("job firing on schedule must be on time")
	}
}

func TestPostIndexAndDelete_ForwardToRunner(t *testing.T) {
	r := &fakeRunner{}
	s := newScheduler(clock.NewFake(t0), r)

	s.PostIndex(intervalJob(t, "m-1", 1))
	s.PostDelete("m-2")
	if len(r.indexed) != 1 || r.indexed[0] != "m-1" || len(r.deleted) != 1 || r.deleted[0] != "m-2" {
		t.Errorf("indexed = %v, deleted = %v", r.indexed, r.deleted)
	}
}
