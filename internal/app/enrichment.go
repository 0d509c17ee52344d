package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"liqradar/clients/hyperliquid"
	"liqradar/config"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type factKind string

const (
	factFirstActivity factKind = "first_activity"
	factAllTimePnl    factKind = "all_time_pnl"
)

type enrichmentEntry struct {
	value     *float64 // nil = venue has no data for the address
	fetchedAt time.Time
}

// EnrichmentStats is a point-in-time view of the enrichment cache.
type EnrichmentStats struct {
	Entries  int    `json:"entries"`
	Hits     uint64 `json:"hits"`
	Fetches  uint64 `json:"fetches"`
	Failures uint64 `json:"failures"`
}

// EnrichmentCache lazily fetches and caches wallet age and all-time PnL.
// Fetch failures yield nil and are never returned to the caller.
type EnrichmentCache struct {
	logger *zap.Logger
	source EnrichmentSource
	group  singleflight.Group
	now    func() time.Time

	mu            sync.RWMutex
	entries       map[string]enrichmentEntry
	walletAgeTTL  time.Duration // 0 = permanent
	pnlTTL        time.Duration
	newWalletDays int

	hits     uint64
	fetches  uint64
	failures uint64
}

func NewEnrichmentCache(logger *zap.Logger, source EnrichmentSource, cfg config.EnrichmentConfig, newWalletDays int) *EnrichmentCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrichmentCache{
		logger:        logger,
		source:        source,
		now:           time.Now,
		entries:       make(map[string]enrichmentEntry),
		walletAgeTTL:  cfg.WalletAgeTTL,
		pnlTTL:        cfg.PnlTTL,
		newWalletDays: newWalletDays,
	}
}

// UpdateSettings applies new TTLs and the new-wallet cutoff.
func (ec *EnrichmentCache) UpdateSettings(cfg config.EnrichmentConfig, newWalletDays int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.walletAgeTTL = cfg.WalletAgeTTL
	ec.pnlTTL = cfg.PnlTTL
	ec.newWalletDays = newWalletDays
}

// WalletAgeDays returns days since the address's earliest fill, or nil.
func (ec *EnrichmentCache) WalletAgeDays(ctx context.Context, address string) *float64 {
	first := ec.get(ctx, factFirstActivity, address)
	if first == nil {
		return nil
	}
	since := time.UnixMilli(int64(*first))
	days := ec.now().Sub(since).Hours() / 24
	if days < 0 {
		days = 0
	}
	return &days
}

// AllTimePnl returns the address's all-time PnL, or nil.
func (ec *EnrichmentCache) AllTimePnl(ctx context.Context, address string) *float64 {
	return ec.get(ctx, factAllTimePnl, address)
}

// SeedAllTimePnl records a PnL learned elsewhere, such as from the
// leaderboard, as a fresh fetch.
func (ec *EnrichmentCache) SeedAllTimePnl(address string, pnl float64) {
	key := string(factAllTimePnl) + ":" + address
	ec.mu.Lock()
	ec.entries[key] = enrichmentEntry{value: &pnl, fetchedAt: ec.now()}
	ec.mu.Unlock()
}

// Enrich fills the enrichment fields of p in place.
func (ec *EnrichmentCache) Enrich(ctx context.Context, p *EvaluatedPosition) {
	p.WalletAgeDays = ec.WalletAgeDays(ctx, p.Address)
	p.AllTimePnl = ec.AllTimePnl(ctx, p.Address)

	ec.mu.RLock()
	cutoff := ec.newWalletDays
	ec.mu.RUnlock()
	p.IsNewAddress = p.WalletAgeDays != nil && *p.WalletAgeDays < float64(cutoff)
}

func (ec *EnrichmentCache) ttl(kind factKind) time.Duration {
	if kind == factFirstActivity {
		return ec.walletAgeTTL
	}
	return ec.pnlTTL
}

func (ec *EnrichmentCache) get(ctx context.Context, kind factKind, address string) *float64 {
	key := string(kind) + ":" + address

	ec.mu.RLock()
	entry, ok := ec.entries[key]
	ttl := ec.ttl(kind)
	ec.mu.RUnlock()

	if ok && (ttl == 0 || ec.now().Sub(entry.fetchedAt) < ttl) {
		atomic.AddUint64(&ec.hits, 1)
		return entry.value
	}

	v, err, _ := ec.group.Do(key, func() (any, error) {
		atomic.AddUint64(&ec.fetches, 1)
		value, err := ec.fetch(ctx, kind, address)
		if err != nil {
			return nil, err
		}
		ec.mu.Lock()
		ec.entries[key] = enrichmentEntry{value: value, fetchedAt: ec.now()}
		ec.mu.Unlock()
		return value, nil
	})
	if err != nil {
		atomic.AddUint64(&ec.failures, 1)
		ec.logger.Debug("enrichment fetch failed",
			zap.String("address", shortID(address)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if ok {
			// stale beats unknown
			return entry.value
		}
		return nil
	}
	return v.(*float64)
}

func (ec *EnrichmentCache) fetch(ctx context.Context, kind factKind, address string) (*float64, error) {
	switch kind {
	case factFirstActivity:
		t, err := ec.source.GetEarliestActivityTime(ctx, address)
		if errors.Is(err, hyperliquid.ErrNoActivity) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ms := float64(t.UnixMilli())
		return &ms, nil
	default:
		pnl, err := ec.source.GetAllTimeRealizedPnl(ctx, address)
		if errors.Is(err, hyperliquid.ErrNoActivity) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &pnl, nil
	}
}

// Prune drops entries older than twice their TTL. Permanent entries stay.
func (ec *EnrichmentCache) Prune(now time.Time) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	removed := 0
	for key, entry := range ec.entries {
		ttl := ec.pnlTTL
		if strings.HasPrefix(key, string(factFirstActivity)+":") {
			ttl = ec.walletAgeTTL
		}
		if ttl == 0 {
			continue
		}
		if now.Sub(entry.fetchedAt) > 2*ttl {
			delete(ec.entries, key)
			removed++
		}
	}
	return removed
}

func (ec *EnrichmentCache) Size() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.entries)
}

func (ec *EnrichmentCache) Stats() EnrichmentStats {
	return EnrichmentStats{
		Entries:  ec.Size(),
		Hits:     atomic.LoadUint64(&ec.hits),
		Fetches:  atomic.LoadUint64(&ec.fetches),
		Failures: atomic.LoadUint64(&ec.failures),
	}
}
