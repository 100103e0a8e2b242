package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBackoffStaysWithinBounds covers property 4: every delay Next()
// produces, across many attempts and many independent backoffs, falls
// in [base, max] inclusive.
func TestBackoffStaysWithinBounds(t *testing.T) {
	const base = 10 * time.Millisecond
	const max = 500 * time.Millisecond

	for trial := 0; trial < 50; trial++ {
		b := NewBackoff(base, max)
		for attempt := 0; attempt < 40; attempt++ {
			d := b.Next()
			assert.GreaterOrEqual(t, d, base)
			assert.LessOrEqual(t, d, max)
		}
	}
}

// TestBackoffApproachesMaxAtHighAttempt covers the growth side of
// property 4: once the attempt count is large enough that the jitter
// spread dwarfs the cap, the delay is pinned at max rather than still
// wandering around base.
func TestBackoffApproachesMaxAtHighAttempt(t *testing.T) {
	b := NewBackoff(5*time.Millisecond, 200*time.Millisecond)
	for i := 0; i < 20; i++ {
		b.Next()
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, 200*time.Millisecond, b.Next())
	}
}

// TestBackoffResetRestartsFromBase covers Reset: after a successful
// reconnect, the next delay must be drawn as if no prior attempts had
// happened, not continue growing from wherever the attempt count was.
func TestBackoffResetRestartsFromBase(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 1*time.Second)
	for i := 0; i < 10; i++ {
		b.Next()
	}
	assert.Greater(t, b.Attempt(), 0)

	b.Reset()
	assert.Equal(t, 0, b.Attempt())

	d := b.Next()
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Equal(t, 1, b.Attempt())
}

// TestBackoffAttemptIncrementsMonotonically ensures Next() advances the
// attempt counter by exactly one per call, since callers rely on
// Attempt() for observability/logging between calls.
func TestBackoffAttemptIncrementsMonotonically(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Second)
	for i := 1; i <= 5; i++ {
		b.Next()
		assert.Equal(t, i, b.Attempt())
	}
}
