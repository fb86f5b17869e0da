package delivery

import (
	"math/rand"
	"time"
)

// computeDelay maps a 1-based attempt number to the backoff schedule and
// applies +/- jitterPct of jitter. Attempts past the end of the schedule
// reuse its last entry.
func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}
