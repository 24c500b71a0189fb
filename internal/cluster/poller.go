package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
)

type PollerConfig struct {
	NodeID      string
	Address     string
	Index       string
	Shards      int
	Replicas    int
	Interval    time.Duration
	NodeTimeout time.Duration // a node missing heartbeats this long is not live
}

// Poller heartbeats the local node, reads the live member list and applies
// the resulting shard routing to the Service.
type Poller struct {
	nodes  repository.NodeRepository
	svc    *Service
	cfg    PollerConfig
	clock  clock.Clock
	logger *slog.Logger
}

func NewPoller(nodes repository.NodeRepository, svc *Service, cfg PollerConfig, c clock.Clock, logger *slog.Logger) *Poller {
	return &Poller{
		nodes:  nodes,
		svc:    svc,
		cfg:    cfg,
		clock:  c,
		logger: logger.With("component", "cluster_poller"),
	}
}

func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("cluster poller started", "interval", p.cfg.Interval, "node_id", p.cfg.NodeID)
	if err := p.Poll(ctx); err != nil {
		p.logger.Error("cluster poll", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cluster poller shut down")
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Error("cluster poll", "error", err)
			}
		}
	}
}

// Poll runs one heartbeat and membership refresh. On a listing error the
// previous state is kept.
func (p *Poller) Poll(ctx context.Context) error {
	if err := p.nodes.Heartbeat(ctx, p.cfg.NodeID, p.cfg.Address); err != nil {
		// still refresh: other nodes may have left even if we cannot write
		p.logger.Warn("heartbeat failed", "error", err)
	}

	live, err := p.nodes.ListLive(ctx, p.clock.Now().Add(-p.cfg.NodeTimeout))
	if err != nil {
		return fmt.Errorf("list live nodes: %w", err)
	}
	ids := make([]string, 0, len(live))
	for _, n := range live {
		ids = append(ids, n.ID)
	}

	routing := Assign(ids, p.cfg.Index, p.cfg.Shards, p.cfg.Replicas)
	if p.svc.Apply(ids, routing) {
		p.logger.Info("membership updated", "live_nodes", ids)
	}

	state := p.svc.State()
	metrics.LiveNodes.Set(float64(len(ids)))
	metrics.LocalShards.Set(float64(len(state.LocalActiveShards(p.cfg.Index))))
	return nil
}
