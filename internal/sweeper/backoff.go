package sweeper

import (
	"math"
	"time"
)

// backoffDelays returns the waits between search attempts: base plus an
// exponentially growing increment of 10ms*(floor(e^(0.8*i))-1).
func backoffDelays(base time.Duration, retries int) []time.Duration {
	delays := make([]time.Duration, retries)
	for i := range retries {
		step := math.Floor(math.Exp(0.8*float64(i))) - 1
		delays[i] = base + time.Duration(step)*10*time.Millisecond
	}
	return delays
}
