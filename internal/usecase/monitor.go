package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/document"
	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/ErlanBelekov/alerting-scheduler/internal/schedule"
	"github.com/google/uuid"
)

// MonitorUsecase writes monitor documents to the job index. The sweepers on
// each node pick the writes up from there.
type MonitorUsecase struct {
	store  repository.JobStore
	parser *document.Parser
	clock  clock.Clock
}

func NewMonitorUsecase(store repository.JobStore, c clock.Clock) *MonitorUsecase {
	return &MonitorUsecase{store: store, parser: document.NewParser(), clock: c}
}

type MonitorInput struct {
	Name     string
	Schedule schedule.Schedule
	Inputs   []domain.Input
	Triggers []domain.Trigger
}

type CreateMonitorInput struct {
	MonitorInput
	ID      string // generated when empty
	Enabled bool
}

func (u *MonitorUsecase) Create(ctx context.Context, input CreateMonitorInput) (*domain.Job, error) {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	job := newMonitor(id, input.MonitorInput)
	job.Enabled = input.Enabled
	if input.Enabled {
		job.EnabledTime = u.now()
	}

	version, err := u.write(ctx, job, 0)
	if err != nil {
		return nil, fmt.Errorf("create monitor: %w", err)
	}
	job.Version = version
	return job, nil
}

func (u *MonitorUsecase) Get(ctx context.Context, id string) (*domain.Job, error) {
	doc, err := u.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	job, err := u.parser.Parse(doc.ID, doc.Version, doc.Source)
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	return job, nil
}

// Update replaces the monitor body, keeping its enabled state. The write
// fails with domain.ErrVersionConflict unless expectedVersion is current.
func (u *MonitorUsecase) Update(ctx context.Context, id string, input MonitorInput, expectedVersion int64) (*domain.Job, error) {
	current, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	job := newMonitor(id, input)
	job.Enabled = current.Enabled
	job.EnabledTime = current.EnabledTime

	version, err := u.write(ctx, job, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update monitor: %w", err)
	}
	job.Version = version
	return job, nil
}

// SetEnabled toggles a monitor. Enabling stamps a fresh enabled time, which
// re-anchors interval schedules.
func (u *MonitorUsecase) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.Job, error) {
	job, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Enabled == enabled {
		return job, nil
	}

	job.Enabled = enabled
	job.EnabledTime = nil
	if enabled {
		job.EnabledTime = u.now()
	}

	version, err := u.write(ctx, job, job.Version)
	if err != nil {
		return nil, fmt.Errorf("set monitor enabled: %w", err)
	}
	job.Version = version
	return job, nil
}

func (u *MonitorUsecase) Delete(ctx context.Context, id string, expectedVersion int64) error {
	err := u.store.Delete(ctx, id, expectedVersion)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.ErrJobNotFound
	case errors.Is(err, repository.ErrVersionConflict):
		return domain.ErrVersionConflict
	case err != nil:
		return fmt.Errorf("delete monitor: %w", err)
	}
	return nil
}

func (u *MonitorUsecase) write(ctx context.Context, job *domain.Job, expectedVersion int64) (int64, error) {
	source, err := document.Encode(job)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	// the sweepers will parse what we store; refuse anything they would reject
	if _, err := u.parser.Parse(job.ID, expectedVersion, source); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}

	version, err := u.store.Index(ctx, job.ID, source, expectedVersion)
	if errors.Is(err, repository.ErrVersionConflict) {
		return 0, domain.ErrVersionConflict
	}
	return version, err
}

// now is truncated to the millisecond precision documents store.
func (u *MonitorUsecase) now() *time.Time {
	t := u.clock.Now().UTC().Truncate(time.Millisecond)
	return &t
}

func newMonitor(id string, input MonitorInput) *domain.Job {
	return &domain.Job{
		ID:       id,
		Type:     domain.JobTypeMonitor,
		Name:     input.Name,
		Schedule: input.Schedule,
		Monitor: &domain.Monitor{
			Inputs:   input.Inputs,
			Triggers: input.Triggers,
		},
	}
}
