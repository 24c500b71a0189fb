package postgres

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

const runColumns = `id, monitor_id, node_id, period_start, period_end, started_at,
	completed_at, status, triggered, error, duration_ms`

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO monitor_runs (id, monitor_id, node_id, period_start, period_end, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+runColumns,
		run.ID, run.MonitorID, run.NodeID, run.PeriodStart, run.PeriodEnd, run.StartedAt,
	)
	return scanRun(row)
}

func (r *RunRepository) CompleteRun(ctx context.Context, run *domain.Run) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE monitor_runs
		SET completed_at = $2,
		    status       = $3,
		    triggered    = $4,
		    error        = $5,
		    duration_ms  = $6
		WHERE id = $1`,
		run.ID, run.CompletedAt, string(run.Status), run.Triggered, run.Error, run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", classify(err))
	}
	return nil
}

func (r *RunRepository) ListByMonitor(ctx context.Context, monitorID string, limit int) ([]*domain.Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM monitor_runs
		WHERE monitor_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", classify(err))
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status *string
	err := row.Scan(
		&run.ID, &run.MonitorID, &run.NodeID, &run.PeriodStart, &run.PeriodEnd, &run.StartedAt,
		&run.CompletedAt, &status, &run.Triggered, &run.Error, &run.DurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", classify(err))
	}
	if status != nil {
		run.Status = domain.RunStatus(*status)
	}
	return &run, nil
}
