package procmgr

import (
	"math"
	"math/rand/v2"
	"time"
)

// Jitter spreads d uniformly over [d*(1-fraction), d*(1+fraction)].
// fraction is clamped to [0, 1].
func Jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	fraction = min(fraction, 1.0)

	offset := (rand.Float64()*2 - 1) * fraction
	return time.Duration(float64(d) * (1 + offset))
}

// ExponentialBackoff returns base*2^attempt capped at max, with 25% jitter.
// Negative attempts count as zero.
func ExponentialBackoff(attempt int, base, max time.Duration) time.Duration {
	attempt = max0(attempt)

	delay := time.Duration(float64(base) * math.Exp2(float64(attempt)))
	// float math overflows to a negative duration for large attempts
	if delay <= 0 || delay > max {
		delay = max
	}
	return Jitter(delay, 0.25)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Backoff tracks consecutive failures for a restart loop
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and records the failure
func (b *Backoff) Next() time.Duration {
	d := ExponentialBackoff(b.attempt, b.Base, b.Max)
	b.attempt++
	return d
}

// Attempts returns the number of failures since the last Reset
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset clears the failure count after a success
func (b *Backoff) Reset() {
	b.attempt = 0
}
