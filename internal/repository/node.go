package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
)

// NodeRepository tracks cluster membership through node heartbeats.
type NodeRepository interface {
	Heartbeat(ctx context.Context, nodeID, address string) error
	// ListLive returns nodes whose last heartbeat is at or after since, ordered by id.
	ListLive(ctx context.Context, since time.Time) ([]*domain.Node, error)
	// DeleteStale removes at most limit nodes whose last heartbeat is before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
