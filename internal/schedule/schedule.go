// Package schedule converts a job's schedule definition into concrete
// execution times.
//
// Two variants exist: Interval (fixed period anchored at a start instant) and
// Cron (5-field expression evaluated in an IANA time zone). All operations are
// pure: callers supply the reference instants, so recomputing with the same
// inputs after a restart yields the same answer.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidUnit       = errors.New("invalid interval unit")
	ErrInvalidInterval   = errors.New("interval must be positive")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrUnknownSchedule   = errors.New("unknown schedule type")
	ErrAmbiguousSchedule = errors.New("schedule must define exactly one of period or cron")
)

// OnTimeTolerance is the slack granted to timer delivery when deciding
// whether a job is running on time.
const OnTimeTolerance = 5 * time.Second

// Schedule is implemented by *Interval and *Cron.
type Schedule interface {
	// NextTimeToExecute returns the duration from ref to the next fire time.
	// ok is false when the schedule can never fire again.
	NextTimeToExecute(ref time.Time) (d time.Duration, ok bool)

	// ExpectedNextExecutionTime advances strictly from prev when it is set,
	// otherwise computes from enabledTime.
	ExpectedNextExecutionTime(enabledTime time.Time, prev *time.Time, now time.Time) (time.Time, bool)

	// PeriodStartingAt returns the window one execution starting at start covers.
	PeriodStartingAt(start time.Time) (time.Time, time.Time)

	// PeriodEndingAt returns the window one execution ending at end covers.
	PeriodEndingAt(end time.Time) (time.Time, time.Time)

	// RunningOnTime reports whether an execution at last keeps pace with now.
	RunningOnTime(last *time.Time, now time.Time) bool

	isSchedule()
}

type document struct {
	Period *intervalDocument `json:"period,omitempty"`
	Cron   *cronDocument     `json:"cron,omitempty"`
}

type intervalDocument struct {
	Interval  int    `json:"interval"`
	Unit      string `json:"unit"`
	StartTime *int64 `json:"start_time,omitempty"`
}

type cronDocument struct {
	Expression string `json:"expression"`
	Timezone   string `json:"timezone"`
	StartTime  *int64 `json:"start_time,omitempty"`
}

// Parse decodes a schedule from its JSON document form.
func Parse(raw []byte) (Schedule, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	switch {
	case doc.Period != nil && doc.Cron != nil:
		return nil, ErrAmbiguousSchedule
	case doc.Period != nil:
		s, err := NewInterval(doc.Period.Interval, Unit(doc.Period.Unit))
		if err != nil {
			return nil, err
		}
		s.StartTime = fromEpochMillis(doc.Period.StartTime)
		return s, nil
	case doc.Cron != nil:
		s, err := NewCron(doc.Cron.Expression, doc.Cron.Timezone)
		if err != nil {
			return nil, err
		}
		s.StartTime = fromEpochMillis(doc.Cron.StartTime)
		return s, nil
	default:
		return nil, ErrUnknownSchedule
	}
}

// Marshal encodes s into its JSON document form.
func Marshal(s Schedule) ([]byte, error) {
	var doc document
	switch v := s.(type) {
	case *Interval:
		doc.Period = &intervalDocument{Interval: v.Interval, Unit: string(v.Unit), StartTime: toEpochMillis(v.StartTime)}
	case *Cron:
		doc.Cron = &cronDocument{Expression: v.Expression, Timezone: v.Timezone, StartTime: toEpochMillis(v.StartTime)}
	default:
		return nil, ErrUnknownSchedule
	}
	return json.Marshal(doc)
}

func fromEpochMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func toEpochMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
