package schedule

import (
	"fmt"
	"time"
)

// Unit is the granularity of an interval schedule.
type Unit string

const (
	Minutes Unit = "MINUTES"
	Hours   Unit = "HOURS"
	Days    Unit = "DAYS"
)

func (u Unit) duration() (time.Duration, bool) {
	switch u {
	case Minutes:
		return time.Minute, true
	case Hours:
		return time.Hour, true
	case Days:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Interval fires every Interval units, phase-locked to its anchor.
type Interval struct {
	Interval  int
	Unit      Unit
	StartTime *time.Time

	period time.Duration
}

// NewInterval validates and builds an interval schedule.
func NewInterval(interval int, unit Unit) (*Interval, error) {
	d, ok := unit.duration()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not one of %s, %s, %s", ErrInvalidUnit, unit, Minutes, Hours, Days)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidInterval, interval)
	}
	return &Interval{Interval: interval, Unit: unit, period: time.Duration(interval) * d}, nil
}

// Period is the length of one interval.
func (s *Interval) Period() time.Duration { return s.period }

func (s *Interval) NextTimeToExecute(ref time.Time) (time.Duration, bool) {
	anchor := ref
	if s.StartTime != nil {
		anchor = *s.StartTime
	}
	return nextBoundary(anchor, ref, s.period).Sub(ref), true
}

func (s *Interval) ExpectedNextExecutionTime(enabledTime time.Time, prev *time.Time, now time.Time) (time.Time, bool) {
	anchor := enabledTime
	if prev != nil {
		anchor = *prev
	}
	return nextBoundary(anchor, now, s.period), true
}

func (s *Interval) PeriodStartingAt(start time.Time) (time.Time, time.Time) {
	return start, start.Add(s.period)
}

func (s *Interval) PeriodEndingAt(end time.Time) (time.Time, time.Time) {
	return end.Add(-s.period), end
}

func (s *Interval) RunningOnTime(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) <= s.period+OnTimeTolerance
}

func (*Interval) isSchedule() {}

// nextBoundary returns the first anchor+k*period instant strictly after ref,
// or the anchor itself when it lies in the future.
func nextBoundary(anchor, ref time.Time, period time.Duration) time.Time {
	if anchor.After(ref) {
		return anchor
	}
	elapsed := ref.Sub(anchor)
	return anchor.Add((elapsed/period + 1) * period)
}
