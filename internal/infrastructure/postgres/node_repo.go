package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NodeRepository struct {
	pool *pgxpool.Pool
}

func NewNodeRepository(pool *pgxpool.Pool) *NodeRepository {
	return &NodeRepository{pool: pool}
}

func (r *NodeRepository) Heartbeat(ctx context.Context, nodeID, address string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO node_heartbeats (node_id, address, last_seen)
		VALUES ($1, $2, NOW())
		ON CONFLICT (node_id) DO UPDATE
		SET address   = EXCLUDED.address,
		    last_seen = NOW()`,
		nodeID, address,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", classify(err))
	}
	return nil
}

func (r *NodeRepository) ListLive(ctx context.Context, since time.Time) ([]*domain.Node, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT node_id, address, last_seen
		FROM node_heartbeats
		WHERE last_seen >= $1
		ORDER BY node_id`, since)
	if err != nil {
		return nil, fmt.Errorf("list live nodes: %w", classify(err))
	}
	defer rows.Close()

	var nodes []*domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *NodeRepository) DeleteStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM node_heartbeats
		WHERE node_id IN (
			SELECT node_id FROM node_heartbeats
			WHERE  last_seen < $1
			ORDER BY last_seen ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete stale nodes: %w", classify(err))
	}
	return int(tag.RowsAffected()), nil
}

func scanNode(row rowScanner) (*domain.Node, error) {
	var n domain.Node
	if err := row.Scan(&n.ID, &n.Address, &n.LastSeen); err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return &n, nil
}
