package procmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestJitter tests jitter bounds
func TestJitter(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, base, Jitter(base, 0))

	for i := 0; i < 100; i++ {
		d := Jitter(base, 0.25)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}

	for i := 0; i < 100; i++ {
		d := Jitter(base, 5)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

// TestExponentialBackoff tests growth and capping
func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, max},
		{5000, max},
	}

	for _, tt := range tests {
		d := ExponentialBackoff(tt.attempt, base, max)
		assert.InDelta(t, float64(tt.want), float64(d), float64(tt.want)*0.25+1, "attempt %d", tt.attempt)
	}
}

// TestBackoff tests the attempt counter
func TestBackoff(t *testing.T) {
	b := &Backoff{Base: 10 * time.Millisecond, Max: time.Second}

	first := b.Next()
	assert.InDelta(t, float64(10*time.Millisecond), float64(first), float64(3*time.Millisecond))
	b.Next()
	assert.Equal(t, 2, b.Attempts())

	third := b.Next()
	assert.InDelta(t, float64(40*time.Millisecond), float64(third), float64(10*time.Millisecond))

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
}
