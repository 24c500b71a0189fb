package domain

import (
	"errors"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/schedule"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidJob      = errors.New("invalid job")
	ErrVersionConflict = errors.New("job version conflict")
)

// JobTypeMonitor is the document type of a monitor.
const JobTypeMonitor = "monitor"

// Job is a scheduled job as stored in the job index. Version increases with
// every write to the document.
type Job struct {
	ID      string
	Version int64
	Type    string

	Name        string
	Enabled     bool
	EnabledTime *time.Time // set iff Enabled
	Schedule    schedule.Schedule

	Monitor *Monitor
}

// Monitor is the payload of a JobTypeMonitor job: HTTP inputs to query and
// trigger conditions evaluated against each result.
type Monitor struct {
	Inputs   []Input
	Triggers []Trigger
}

type Input struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           *string // nil means no body
	TimeoutSeconds int
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityLow      Severity = "low"
)

type Trigger struct {
	Name      string
	Severity  Severity
	Condition Condition
}

// Field is a property of an input result a condition can test.
type Field string

const (
	FieldStatusCode Field = "status_code"
	FieldDurationMS Field = "duration_ms"
	FieldError      Field = "error"
)

type Op string

const (
	OpGT  Op = "gt"
	OpGTE Op = "gte"
	OpLT  Op = "lt"
	OpLTE Op = "lte"
	OpEQ  Op = "eq"
	OpNE  Op = "ne"
)

// Condition compares Field against Value. For FieldError, Value is 1 when the
// request failed and 0 otherwise.
type Condition struct {
	Field Field
	Op    Op
	Value float64
}
