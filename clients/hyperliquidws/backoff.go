package hyperliquidws

import (
	"sync"
	"time"
)

// Backoff produces exponentially growing reconnect delays: base, base*2,
// base*4, ... capped at max. Reset returns it to base.
type Backoff struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	b.attempt++
	return d
}

// Reset returns the backoff to its base delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
