package pubsub

import (
	"math"
	"math/rand"
	"time"
)

// Backoff implements AWS-style full jitter reconnection delay: given
// attempt k, delay = min(Dmax, D0 + U(0, D0*2^min(k,31))).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
	rnd     *rand.Rand
}

// NewBackoff builds a Backoff with the given base delay and cap.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the delay for the current attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	k := b.attempt
	if k > 31 {
		k = 31
	}
	b.attempt++

	spread := float64(b.Base) * math.Pow(2, float64(k))
	jitter := time.Duration(b.rnd.Float64() * spread)

	delay := b.Base + jitter
	if delay > b.Max {
		delay = b.Max
	}
	if delay < b.Base {
		delay = b.Base
	}
	return delay
}

// Reset zeroes the attempt counter; call it once a connection attempt
// succeeds so the next disconnect starts backing off from scratch.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt count, for observability.
func (b *Backoff) Attempt() int {
	return b.attempt
}
