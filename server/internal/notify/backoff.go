package notify

import (
	"math/rand/v2"
	"time"
)

const (
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 10 * time.Second
)

// retryDelay returns the wait before retry number attempt (1-based): base
// doubled per attempt, capped at backoffMax, then scaled into [0.75, 1.25).
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = backoffInitial
	}
	d := base
	for i := 1; i < attempt && d < backoffMax; i++ {
		d *= 2
	}
	d = min(d, backoffMax)
	return time.Duration(float64(d) * (0.75 + rand.Float64()/2)) //nolint:gosec // not crypto
}
