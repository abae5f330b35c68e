package reconnect

import "time"

const (

	// DefaultBaseDelay denotes the initial reconnect delay
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay denotes the upper bound of the reconnect delay
	DefaultMaxDelay = 30 * time.Second
)

// Backoff denotes an exponential retry delay bounded by [base, max]
type Backoff struct {
	base  time.Duration
	max   time.Duration
	delay time.Duration
}

// NewBackoff instantiates a new Backoff starting at base
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base:  base,
		max:   max,
		delay: base,
	}
}

// Delay returns the delay to be used for the next wait
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Next returns the current delay and doubles it for the following call (capped at max)
func (b *Backoff) Next() time.Duration {
	d := b.delay
	b.delay = min(b.delay*2, b.max)
	return d
}

// Reset restores the base delay
func (b *Backoff) Reset() {
	b.delay = b.base
}
