package schedule

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxLookback bounds the backwards search for a previous match. It mirrors
// the five-year horizon robfig/cron uses for forward searches.
const maxLookback = 5 * 366 * 24 * time.Hour

// Cron fires on every match of a 5-field cron expression in Timezone.
type Cron struct {
	Expression string
	Timezone   string
	StartTime  *time.Time

	spec *cron.SpecSchedule
}

// NewCron parses expression and resolves timezone.
func NewCron(expression, timezone string) (*Cron, error) {
	if strings.TrimSpace(timezone) == "" {
		return nil, fmt.Errorf("%w: empty zone id", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, timezone, err)
	}

	if strings.Contains(expression, "TZ=") {
		return nil, fmt.Errorf("%w: zone must be given separately", ErrInvalidCronExpr)
	}
	parsed, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, expression, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCronExpr, expression)
	}
	spec.Location = loc

	return &Cron{Expression: expression, Timezone: timezone, spec: spec}, nil
}

// Location is the resolved zone the expression is evaluated in.
func (s *Cron) Location() *time.Location { return s.spec.Location }

func (s *Cron) NextTimeToExecute(ref time.Time) (time.Duration, bool) {
	next, ok := s.next(ref)
	if !ok {
		return 0, false
	}
	return next.Sub(ref), true
}

func (s *Cron) ExpectedNextExecutionTime(_ time.Time, prev *time.Time, now time.Time) (time.Time, bool) {
	from := now
	if prev != nil {
		from = *prev
	}
	return s.next(from)
}

func (s *Cron) PeriodStartingAt(start time.Time) (time.Time, time.Time) {
	end, ok := s.next(start)
	if !ok {
		return start, start
	}
	return start, end
}

func (s *Cron) PeriodEndingAt(end time.Time) (time.Time, time.Time) {
	start, ok := s.prev(end)
	if !ok {
		return end, end
	}
	return start, end
}

func (s *Cron) RunningOnTime(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	expected, ok := s.prev(now.Add(-OnTimeTolerance))
	if !ok {
		// something ran although the expression never matched before now
		return false
	}
	return !last.Before(expected.Add(-OnTimeTolerance))
}

func (*Cron) isSchedule() {}

// next returns the first match strictly after t, honouring StartTime.
func (s *Cron) next(t time.Time) (time.Time, bool) {
	if s.StartTime != nil && s.StartTime.After(t) {
		// Next is exclusive; step back so a match exactly at StartTime counts.
		t = s.StartTime.Add(-time.Nanosecond)
	}
	n := s.spec.Next(t)
	if n.IsZero() {
		return time.Time{}, false
	}
	return n, true
}

// prev returns the last match strictly before t.
func (s *Cron) prev(t time.Time) (time.Time, bool) {
	for step := time.Minute; step <= maxLookback; step *= 2 {
		candidate := s.spec.Next(t.Add(-step))
		if candidate.IsZero() || !candidate.Before(t) {
			continue
		}
		for {
			n := s.spec.Next(candidate)
			if n.IsZero() || !n.Before(t) {
				return candidate, true
			}
			candidate = n
		}
	}
	return time.Time{}, false
}
