// Package sweeper keeps the local job scheduler in line with the job index:
// which documents exist and are enabled, which shard copies are local, and
// which node owns each job on the shard's hash ring.
//
// Full sweeps page through every local shard and run on a single serial
// executor. Single-document sweeps run inline on the goroutine delivering a
// write event and only touch memory.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/cluster"
	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/ErlanBelekov/alerting-scheduler/internal/ring"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled    = errors.New("sweeper is disabled")
	ErrRateLimited = errors.New("sweep requested too soon after the previous one")
)

const (
	// rateLimitSlack lets a background tick that lands a little early still sweep.
	rateLimitSlack = 20 * time.Millisecond

	descheduleAttempts = 3
)

// Scheduler is the part of the job scheduler the sweeper drives.
type Scheduler interface {
	Schedule(job *domain.Job) bool
	Deschedule(id string) bool
	IsScheduled(id string) bool
	ScheduledJobs() []string
	PostIndex(job *domain.Job)
	PostDelete(id string)
}

type DocumentParser interface {
	Types() []string
	Sweepable(source []byte) bool
	Parse(id string, version int64, source []byte) (*domain.Job, error)
}

type ClusterService interface {
	State() cluster.State
	AddListener(l cluster.Listener)
}

// Executor runs sweep tasks one at a time in submission order.
type Executor func(task func())

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	Index     string
	Store     repository.JobStore
	Cluster   ClusterService
	Scheduler Scheduler
	Parser    DocumentParser
	Settings  Settings

	// Optional.
	Clock    clock.Clock
	Executor Executor
	Sleep    SleepFunc
	Logger   *slog.Logger
}

// Metrics reports whether full sweeps keep pace with the sweep period.
type Metrics struct {
	LastFullSweepTimeMillis int64 `json:"last_full_sweep_time_millis"` // elapsed since the last completed full sweep
	FullSweepOnTime         bool  `json:"full_sweep_on_time"`
}

type Sweeper struct {
	index     string
	store     repository.JobStore
	cluster   ClusterService
	scheduler Scheduler
	parser    DocumentParser
	clock     clock.Clock
	sleep     SleepFunc
	logger    *slog.Logger

	submit Executor
	queue  *serialQueue // nil when the caller supplied an Executor

	settingsMu sync.RWMutex
	settings   Settings
	reset      chan struct{}

	shardsMu sync.Mutex
	shards   map[cluster.ShardID]*versionMap

	lastFullSweep atomic.Int64 // unix nanos
	limiter       *rate.Limiter

	runCtx context.Context
	cancel context.CancelFunc

	// stopMu is held shared by every reconciliation so Stop can wait out
	// the ones in flight before descheduling.
	stopMu  sync.RWMutex
	stopped bool
}

func New(cfg Config) (*Sweeper, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	s := &Sweeper{
		index:     cfg.Index,
		store:     cfg.Store,
		cluster:   cfg.Cluster,
		scheduler: cfg.Scheduler,
		parser:    cfg.Parser,
		clock:     cfg.Clock,
		sleep:     cfg.Sleep,
		logger:    cfg.Logger,
		settings:  cfg.Settings,
		reset:     make(chan struct{}, 1),
		shards:    make(map[cluster.ShardID]*versionMap),
		limiter:   rate.NewLimiter(rate.Every(cfg.Settings.SweepPeriod), 1),
		runCtx:    context.Background(),
		cancel:    func() {},
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sweeper")
	if cfg.Executor != nil {
		s.submit = cfg.Executor
	} else {
		s.queue = newSerialQueue()
		s.submit = s.queue.push
	}
	s.lastFullSweep.Store(s.clock.Now().UnixNano())
	return s, nil
}

// Start registers for cluster changes, queues the initial full sweep and
// runs the background sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	if s.queue != nil {
		go s.queue.run(s.runCtx)
	}
	s.cluster.AddListener(s)
	if s.Settings().Enabled {
		s.submitFullSweep()
	}
	go s.backgroundLoop(s.runCtx)
	s.logger.Info("sweeper started", "index", s.index, "settings", fmt.Sprintf("%+v", s.Settings()))
}

// Stop cancels the background loop and deschedules every local job. No job
// is scheduled by the sweeper after Stop returns, including by a sweep that
// was in progress.
func (s *Sweeper) Stop() {
	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()

	s.cancel()
	s.descheduleEverything()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) Settings() Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// ApplySettings swaps in new settings. Disabling cancels every local
// schedule; enabling queues a full sweep. Period changes restart the
// background loop; the other knobs apply from the next search page.
func (s *Sweeper) ApplySettings(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.settingsMu.Lock()
	prev := s.settings
	s.settings = next
	s.settingsMu.Unlock()

	if next.SweepPeriod != prev.SweepPeriod {
		s.limiter.SetLimit(rate.Every(next.SweepPeriod))
	}

	switch {
	case prev.Enabled && !next.Enabled:
		s.logger.Info("sweeper disabled, descheduling all jobs")
		s.submit(s.descheduleEverything)
	case !prev.Enabled && next.Enabled:
		s.logger.Info("sweeper enabled")
		s.submitFullSweep()
	}
	if prev.Enabled != next.Enabled || prev.SweepPeriod != next.SweepPeriod {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

// ClusterChanged queues a full sweep when routing of the job index changed.
func (s *Sweeper) ClusterChanged(event cluster.ChangedEvent) {
	if !s.Settings().Enabled || !event.RoutingChanged(s.index) {
		return
	}
	s.submitFullSweep()
}

// RequestSweep queues an out-of-band full sweep, at most one per sweep period.
func (s *Sweeper) RequestSweep() error {
	if !s.Settings().Enabled {
		return ErrDisabled
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}
	s.submitFullSweep()
	return nil
}

func (s *Sweeper) Metrics() Metrics {
	elapsed := s.clock.Now().Sub(time.Unix(0, s.lastFullSweep.Load()))
	return Metrics{
		LastFullSweepTimeMillis: elapsed.Milliseconds(),
		FullSweepOnTime:         elapsed <= s.Settings().SweepPeriod,
	}
}

// TrackedJobs returns the number of job versions tracked across local shards.
func (s *Sweeper) TrackedJobs() int {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	n := 0
	for _, vm := range s.shards {
		n += vm.len()
	}
	return n
}

func (s *Sweeper) submitFullSweep() {
	s.submit(func() {
		if err := s.FullSweep(s.runCtx); err != nil {
			s.logger.Error("full sweep", "error", err)
		}
	})
}

func (s *Sweeper) backgroundLoop(ctx context.Context) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	restart := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if st := s.Settings(); st.Enabled {
			ticker = time.NewTicker(st.SweepPeriod)
			tick = ticker.C
		}
	}
	restart()

	for {
		select {
		case <-ctx.Done():
			if ticker != nil {
				ticker.Stop()
			}
			return
		case <-s.reset:
			restart()
		case <-tick:
			s.submit(func() { s.sweepIfDue(ctx) })
		}
	}
}

// sweepIfDue runs a full sweep unless one completed within the last period.
func (s *Sweeper) sweepIfDue(ctx context.Context) bool {
	st := s.Settings()
	if !st.Enabled {
		return false
	}
	elapsed := s.clock.Now().Sub(time.Unix(0, s.lastFullSweep.Load()))
	if st.SweepPeriod-elapsed >= rateLimitSlack {
		return false
	}
	if err := s.FullSweep(ctx); err != nil {
		s.logger.Error("background sweep", "error", err)
	}
	return true
}

// FullSweep reconciles every locally active shard of the job index. A shard
// whose search fails is skipped until the next sweep.
func (s *Sweeper) FullSweep(ctx context.Context) error {
	if !s.Settings().Enabled {
		return ErrDisabled
	}
	start := s.clock.Now()
	state := s.cluster.State()
	local := state.LocalActiveShards(s.index)

	localSet := make(map[cluster.ShardID]struct{}, len(local))
	for _, id := range local {
		localSet[id] = struct{}{}
	}
	for _, id := range s.staleShards(localSet) {
		vm := s.removeShard(id)
		if vm == nil {
			continue
		}
		ids := vm.clear()
		s.logger.Info("shard no longer local, descheduling its jobs", "shard", id.String(), "jobs", len(ids))
		s.descheduleAll(ids)
	}

	var failed int
	for _, id := range local {
		if err := ctx.Err(); err != nil {
			metrics.FullSweepsTotal.WithLabelValues("cancelled").Inc()
			return err
		}
		nodes := ring.NewShardNodes(state.LocalNodeID, state.ActiveNodes(id))
		if err := s.sweepShard(ctx, id, nodes); err != nil {
			failed++
			metrics.ShardSweepFailuresTotal.Inc()
			s.logger.Error("sweep shard", "shard", id.String(), "error", err)
		}
	}

	metrics.FullSweepDuration.Observe(s.clock.Now().Sub(start).Seconds())
	if failed > 0 {
		metrics.FullSweepsTotal.WithLabelValues("partial").Inc()
		return fmt.Errorf("%d of %d shards failed to sweep", failed, len(local))
	}
	metrics.FullSweepsTotal.WithLabelValues("complete").Inc()
	s.lastFullSweep.Store(s.clock.Now().UnixNano())
	s.logger.Debug("full sweep complete", "shards", len(local), "took", s.clock.Now().Sub(start))
	return nil
}

// sweepShard pages through one shard. Once the whole shard has been read,
// jobs tracked before the scan that it no longer returned are treated as
// deleted, which recovers deletes whose events were lost.
func (s *Sweeper) sweepShard(ctx context.Context, shard cluster.ShardID, nodes *ring.ShardNodes) error {
	vm := s.shardVersions(shard)

	for _, id := range vm.ids() {
		if !nodes.IsOwningNode(id) {
			s.deschedule(id)
			vm.forget(id)
		}
	}
	before := vm.snapshot()
	seen := make(map[string]struct{}, len(before))

	after := ""
	for {
		st := s.Settings()
		if !st.Enabled {
			return ErrDisabled
		}
		resp, err := s.search(ctx, repository.SearchRequest{
			Index: shard.Index,
			Shard: shard.Shard,
			Types: s.parser.Types(),
			After: after,
			Size:  st.PageSize,
		}, st)
		if err != nil {
			return err
		}
		if resp.Status != repository.SearchOK {
			return fmt.Errorf("search page after %q: status %s", after, resp.Status)
		}
		if len(resp.Hits) == 0 {
			s.sweepMissing(vm, before, seen)
			return nil
		}
		for _, hit := range resp.Hits {
			if err := ctx.Err(); err != nil {
				return err
			}
			if nodes.IsOwningNode(hit.ID) {
				seen[hit.ID] = struct{}{}
				s.parseAndSweep(vm, hit.ID, hit.Version, hit.Source)
			}
		}
		after = resp.Hits[len(resp.Hits)-1].ID
	}
}

// sweepMissing reconciles as deleted every job tracked at the start of a
// completed scan that the scan did not return. A job written during the
// scan carries a newer version and is left alone.
func (s *Sweeper) sweepMissing(vm *versionMap, before map[string]int64, seen map[string]struct{}) {
	for id, version := range before {
		if _, ok := seen[id]; ok {
			continue
		}
		s.logger.Info("job document missing from shard, descheduling", "job_id", id, "version", version)
		s.sweep(vm, id, version+1, nil, false)
	}
}

func (s *Sweeper) search(ctx context.Context, req repository.SearchRequest, st Settings) (repository.SearchResponse, error) {
	delays := backoffDelays(st.BackoffBase, st.BackoffRetries)
	for attempt := 0; ; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, st.RequestTimeout)
		resp, err := s.store.SearchShard(reqCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, repository.ErrTransient) || attempt >= len(delays) {
			return repository.SearchResponse{}, fmt.Errorf("search shard %d: %w", req.Shard, err)
		}
		metrics.SearchRetriesTotal.Inc()
		s.logger.Warn("search rejected, backing off", "shard", req.Shard, "attempt", attempt+1, "delay", delays[attempt])
		if err := s.sleep(ctx, delays[attempt]); err != nil {
			return repository.SearchResponse{}, err
		}
	}
}

// PostIndex reconciles a job after a write to its document.
func (s *Sweeper) PostIndex(ev repository.WriteEvent) {
	if !ev.Success {
		s.logger.Debug("ignoring failed index", "job_id", ev.ID, "version", ev.Version)
		return
	}
	if !s.Settings().Enabled || !s.parser.Sweepable(ev.Source) {
		return
	}
	shard := cluster.ShardID{Index: ev.Index, Shard: ev.Shard}
	if !s.ownsJob(shard, ev.ID) {
		return
	}
	job := s.parseAndSweep(s.shardVersions(shard), ev.ID, ev.Version, ev.Source)
	if job != nil {
		s.scheduler.PostIndex(job)
	}
}

// PostDelete forgets a job after its document was deleted.
func (s *Sweeper) PostDelete(ev repository.WriteEvent) {
	if !ev.Success {
		return
	}
	if !s.Settings().Enabled {
		return
	}
	shard := cluster.ShardID{Index: ev.Index, Shard: ev.Shard}
	if !s.ownsJob(shard, ev.ID) {
		return
	}
	vm := s.shardVersions(shard)
	if _, tracked := vm.get(ev.ID); tracked || s.scheduler.IsScheduled(ev.ID) {
		s.sweep(vm, ev.ID, ev.Version, nil, false)
	}
	s.scheduler.PostDelete(ev.ID)
}

func (s *Sweeper) ownsJob(shard cluster.ShardID, id string) bool {
	state := s.cluster.State()
	return ring.NewShardNodes(state.LocalNodeID, state.ActiveNodes(shard)).IsOwningNode(id)
}

func (s *Sweeper) parseAndSweep(vm *versionMap, id string, version int64, source []byte) *domain.Job {
	job, err := s.parser.Parse(id, version, source)
	if err != nil {
		s.logger.Warn("unable to parse job, keeping its current state", "job_id", id, "version", version, "error", err)
		s.sweep(vm, id, version, nil, true)
		return nil
	}
	s.sweep(vm, id, version, job, false)
	return job
}

// sweep applies one observed version of a job. job is nil for deletes and
// parse failures. Events for the same id are applied in version order.
func (s *Sweeper) sweep(vm *versionMap, id string, version int64, job *domain.Job, failedToParse bool) {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		return
	}
	vm.compute(id, func(current int64, tracked bool) (int64, bool) {
		if tracked && version <= current {
			return current, true
		}
		if failedToParse {
			// a bad write must not take down the version that is running
			return current, tracked
		}
		if s.scheduler.IsScheduled(id) {
			s.deschedule(id)
		}
		if job == nil {
			return 0, false
		}
		if job.Enabled && !s.scheduler.Schedule(job) {
			s.logger.Warn("failed to schedule job", "job_id", id, "version", version)
		}
		return version, true
	})
}

func (s *Sweeper) deschedule(id string) {
	for range descheduleAttempts {
		if s.scheduler.Deschedule(id) {
			return
		}
		runtime.Gosched()
	}
	s.logger.Error("unable to deschedule job", "job_id", id)
}

func (s *Sweeper) descheduleAll(ids []string) {
	for _, id := range ids {
		s.deschedule(id)
	}
}

// descheduleEverything drops every tracked shard and every scheduled job.
func (s *Sweeper) descheduleEverything() {
	s.shardsMu.Lock()
	shards := s.shards
	s.shards = make(map[cluster.ShardID]*versionMap)
	s.shardsMu.Unlock()

	for _, vm := range shards {
		vm.clear()
	}
	s.descheduleAll(s.scheduler.ScheduledJobs())
}

func (s *Sweeper) shardVersions(id cluster.ShardID) *versionMap {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	vm, ok := s.shards[id]
	if !ok {
		vm = &versionMap{}
		s.shards[id] = vm
	}
	return vm
}

func (s *Sweeper) removeShard(id cluster.ShardID) *versionMap {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	vm := s.shards[id]
	delete(s.shards, id)
	return vm
}

func (s *Sweeper) staleShards(local map[cluster.ShardID]struct{}) []cluster.ShardID {
	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	var stale []cluster.ShardID
	for id := range s.shards {
		if _, ok := local[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
