package remote

import (
	"math/rand"
	"time"
)

// NextDelay returns the backoff delay before retry number attempt
// (0-based). The curve is exponential from base, capped at max, with
// half-width jitter so concurrent workers retrying against the same
// quota window don't stampede.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	// Jitter into [d/2, d).
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
