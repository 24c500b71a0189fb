package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
)

// reapBatch bounds the rows one reaper cycle deletes.
const reapBatch = 100

// Reaper removes nodes that stopped heartbeating long ago from the
// membership table. Liveness itself is decided by heartbeat age, so reaping
// only keeps the table small.
type Reaper struct {
	nodes     repository.NodeRepository
	clock     clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewReaper(nodes repository.NodeRepository, c clock.Clock, logger *slog.Logger, interval, retention time.Duration) *Reaper {
	return &Reaper{
		nodes:     nodes,
		clock:     c,
		logger:    logger.With("component", "node_reaper"),
		interval:  interval,
		retention: retention,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("node reaper started", "interval", r.interval, "retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("node reaper shut down")
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}

// Reap deletes one batch of stale nodes and returns how many were removed.
func (r *Reaper) Reap(ctx context.Context) int {
	start := r.clock.Now()
	defer func() {
		metrics.ReaperCycleDuration.Observe(r.clock.Now().Sub(start).Seconds())
	}()

	removed, err := r.nodes.DeleteStale(ctx, start.Add(-r.retention), reapBatch)
	if err != nil {
		r.logger.Error("delete stale nodes", "error", err)
		return 0
	}
	if removed > 0 {
		metrics.ReaperRemovedTotal.Add(float64(removed))
		r.logger.Info("removed stale nodes", "count", removed)
	}
	return removed
}
