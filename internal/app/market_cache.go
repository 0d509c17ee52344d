package app

import (
	"sync"
	"time"
)

// MarketCache holds the latest mark price per coin. Polls replace the whole
// snapshot; stream pushes and trade prints merge into it.
type MarketCache struct {
	mu        sync.RWMutex
	prices    map[string]float64
	updatedAt time.Time
	now       func() time.Time
}

func NewMarketCache() *MarketCache {
	return &MarketCache{
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

// Replace swaps in an authoritative snapshot. Non-positive prices are ignored.
func (mc *MarketCache) Replace(prices map[string]float64) {
	next := make(map[string]float64, len(prices))
	for coin, px := range prices {
		if px > 0 {
			next[coin] = px
		}
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices = next
	mc.updatedAt = mc.now()
}

// Merge applies an incremental update.
func (mc *MarketCache) Merge(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	for coin, px := range prices {
		if px > 0 {
			mc.prices[coin] = px
		}
	}
	mc.updatedAt = mc.now()
}

func (mc *MarketCache) Get(coin string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	px, ok := mc.prices[coin]
	return px, ok
}

// Snapshot returns a copy of every known price.
func (mc *MarketCache) Snapshot() map[string]float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make(map[string]float64, len(mc.prices))
	for coin, px := range mc.prices {
		out[coin] = px
	}
	return out
}

func (mc *MarketCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.prices)
}

func (mc *MarketCache) UpdatedAt() time.Time {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.updatedAt
}

// IsStale reports whether the cache is empty or has not been updated within
// maxAge.
func (mc *MarketCache) IsStale(maxAge time.Duration) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if len(mc.prices) == 0 || mc.updatedAt.IsZero() {
		return true
	}
	return mc.now().Sub(mc.updatedAt) > maxAge
}
