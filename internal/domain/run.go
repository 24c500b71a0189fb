package domain

import "time"

type RunStatus string

const (
	RunStatusOK        RunStatus = "ok"
	RunStatusTriggered RunStatus = "triggered"
	RunStatusError     RunStatus = "error"
)

// Run records one execution of a monitor over [PeriodStart, PeriodEnd).
type Run struct {
	ID          string
	MonitorID   string
	NodeID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      RunStatus
	Triggered   []string // names of triggers that fired
	Error       *string
	DurationMS  *int64
}

// InputResult is the outcome of querying one monitor input.
type InputResult struct {
	URL        string
	StatusCode int
	Duration   time.Duration
	Err        error
}
