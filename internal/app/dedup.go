package app

import (
	"sync"
	"time"
)

type cooldownKey struct {
	address  string
	coin     string
	platform string
}

// Deduplicator enforces one notification per (address, coin, platform) per
// cooldown window. Platforms are suppressed independently.
type Deduplicator struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastSent map[cooldownKey]time.Time
	now      func() time.Time
}

func NewDeduplicator(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		cooldown: cooldown,
		lastSent: make(map[cooldownKey]time.Time),
		now:      time.Now,
	}
}

// ShouldAlert checks and marks in one step, so two racing callers for the
// same key cannot both get true.
func (d *Deduplicator) ShouldAlert(address, coin, platform string) bool {
	key := cooldownKey{address: address, coin: coin, platform: platform}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.lastSent[key] = now
	return true
}

// MarkAlerted records a send made outside ShouldAlert.
func (d *Deduplicator) MarkAlerted(address, coin, platform string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent[cooldownKey{address: address, coin: coin, platform: platform}] = d.now()
}

// Prune drops entries whose cooldown has elapsed.
func (d *Deduplicator) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, last := range d.lastSent {
		if now.Sub(last) >= d.cooldown {
			delete(d.lastSent, key)
			removed++
		}
	}
	return removed
}

func (d *Deduplicator) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = cooldown
}

func (d *Deduplicator) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSent)
}
