package repository

import (
	"context"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
)

type RunRepository interface {
	// CreateRun opens a run record at the moment execution starts so a crash
	// leaves a visible incomplete entry. Returns the run with its generated ID.
	CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error)

	// CompleteRun closes an open run with its outcome.
	CompleteRun(ctx context.Context, run *domain.Run) error

	// ListByMonitor returns the latest runs of a monitor, newest first.
	ListByMonitor(ctx context.Context, monitorID string, limit int) ([]*domain.Run, error)
}
