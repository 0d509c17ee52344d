package app

import (
	"math"
	"sort"
	"sync"
	"time"

	"liqradar/config"

	"go.uber.org/zap"
)

// AddressSource records how an address first entered the registry.
type AddressSource string

const (
	SourceStream      AddressSource = "stream"
	SourceLeaderboard AddressSource = "leaderboard"
	SourceManual      AddressSource = "manual"
	SourceStore       AddressSource = "store"
)

// TrackedAddress is one address worth scanning.
type TrackedAddress struct {
	Address             string        `json:"address"`
	FirstSeenAt         time.Time     `json:"first_seen_at"`
	LastSeenAt          time.Time     `json:"last_seen_at"`
	CumulativeVolumeUSD float64       `json:"cumulative_volume_usd"`
	Source              AddressSource `json:"source"`
}

// Registry is the bounded set of addresses the scanner polls.
type Registry struct {
	logger *zap.Logger

	mu              sync.RWMutex
	addrs           map[string]*TrackedAddress
	maxAddresses    int
	keepFraction    float64
	retentionWindow time.Duration
	evicted         uint64
}

func NewRegistry(logger *zap.Logger, cfg config.RegistryConfig) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger: logger,
		addrs:  make(map[string]*TrackedAddress),
	}
	r.UpdateLimits(cfg)
	return r
}

// UpdateLimits applies new capacity settings. Eviction happens on the next
// EvictIfOverCapacity call.
func (r *Registry) UpdateLimits(cfg config.RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxAddresses = cfg.MaxAddresses
	r.keepFraction = cfg.KeepFraction
	r.retentionWindow = cfg.RetentionWindow
}

// Register adds address or refreshes it. Volume accumulates and LastSeenAt
// only moves forward. Returns true when the address was not known before.
func (r *Registry) Register(address string, volumeUSD float64, source AddressSource, at time.Time) bool {
	if volumeUSD < 0 || math.IsNaN(volumeUSD) {
		volumeUSD = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ta, ok := r.addrs[address]; ok {
		ta.CumulativeVolumeUSD += volumeUSD
		if at.After(ta.LastSeenAt) {
			ta.LastSeenAt = at
		}
		return false
	}

	r.addrs[address] = &TrackedAddress{
		Address:             address,
		FirstSeenAt:         at,
		LastSeenAt:          at,
		CumulativeVolumeUSD: volumeUSD,
		Source:              source,
	}
	return true
}

func (r *Registry) Get(address string) (TrackedAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ta, ok := r.addrs[address]
	if !ok {
		return TrackedAddress{}, false
	}
	return *ta, true
}

// All returns every tracked address, highest volume first.
func (r *Registry) All() []TrackedAddress {
	r.mu.RLock()
	out := make([]TrackedAddress, 0, len(r.addrs))
	for _, ta := range r.addrs {
		out = append(out, *ta)
	}
	r.mu.RUnlock()

	sortByVolume(out)
	return out
}

// Addresses returns the tracked addresses, highest volume first.
func (r *Registry) Addresses() []string {
	all := r.All()
	out := make([]string, len(all))
	for i, ta := range all {
		out[i] = ta.Address
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addrs)
}

func (r *Registry) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

// EvictIfOverCapacity trims the registry once it exceeds MaxAddresses. The
// top KeepFraction*MaxAddresses by volume survive, and so does every address
// seen within the retention window regardless of rank.
func (r *Registry) EvictIfOverCapacity(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxAddresses <= 0 || len(r.addrs) <= r.maxAddresses {
		return 0
	}

	ranked := make([]TrackedAddress, 0, len(r.addrs))
	for _, ta := range r.addrs {
		ranked = append(ranked, *ta)
	}
	sortByVolume(ranked)

	keep := int(math.Floor(r.keepFraction * float64(r.maxAddresses)))
	removed := 0
	for i, ta := range ranked {
		if i < keep {
			continue
		}
		if now.Sub(ta.LastSeenAt) < r.retentionWindow {
			continue
		}
		delete(r.addrs, ta.Address)
		removed++
	}

	r.evicted += uint64(removed)
	if removed > 0 {
		r.logger.Info("registry eviction",
			zap.Int("removed", removed),
			zap.Int("remaining", len(r.addrs)),
			zap.Int("maxAddresses", r.maxAddresses),
		)
	}
	return removed
}

func sortByVolume(addrs []TrackedAddress) {
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].CumulativeVolumeUSD != addrs[j].CumulativeVolumeUSD {
			return addrs[i].CumulativeVolumeUSD > addrs[j].CumulativeVolumeUSD
		}
		if !addrs[i].LastSeenAt.Equal(addrs[j].LastSeenAt) {
			return addrs[i].LastSeenAt.After(addrs[j].LastSeenAt)
		}
		return addrs[i].Address < addrs[j].Address
	})
}
