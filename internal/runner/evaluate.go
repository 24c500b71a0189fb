package runner

import "github.com/ErlanBelekov/alerting-scheduler/internal/domain"

// Evaluate returns the triggers whose condition holds for at least one input result.
func Evaluate(triggers []domain.Trigger, results []domain.InputResult) []domain.Trigger {
	var fired []domain.Trigger
	for _, tr := range triggers {
		for _, r := range results {
			if Matches(tr.Condition, r) {
				fired = append(fired, tr)
				break
			}
		}
	}
	return fired
}

// Matches reports whether c holds for r. A status code condition never holds
// for a request that got no response.
func Matches(c domain.Condition, r domain.InputResult) bool {
	v, ok := fieldValue(c.Field, r)
	if !ok {
		return false
	}
	switch c.Op {
	case domain.OpGT:
		return v > c.Value
	case domain.OpGTE:
		return v >= c.Value
	case domain.OpLT:
		return v < c.Value
	case domain.OpLTE:
		return v <= c.Value
	case domain.OpEQ:
		return v == c.Value
	case domain.OpNE:
		return v != c.Value
	default:
		return false
	}
}

func fieldValue(f domain.Field, r domain.InputResult) (float64, bool) {
	switch f {
	case domain.FieldStatusCode:
		if r.Err != nil {
			return 0, false
		}
		return float64(r.StatusCode), true
	case domain.FieldDurationMS:
		return float64(r.Duration.Milliseconds()), true
	case domain.FieldError:
		if r.Err != nil {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
