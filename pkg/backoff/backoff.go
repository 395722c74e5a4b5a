package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialJitter doubles base for every attempt after the first, caps the
// result at max and spreads it by +/- 20%.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || max <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// Clamp before converting; large attempts overflow time.Duration.
	f := float64(base) * math.Pow(2, float64(attempt-1))
	d := max
	if f < float64(max) {
		d = time.Duration(f)
	}
	if d <= 0 {
		return 0
	}

	// simple jitter: +/- 20%
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(2*j)))
}
