package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"liqradar/clients/hyperliquid"
	"liqradar/clients/hyperliquidws"
	"liqradar/clients/notifier"
	"liqradar/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const immediateScanTimeout = 30 * time.Second

type scanRequest struct {
	address string
	coin    string
	trigger *hyperliquidws.Trade
}

// ScannerStats is a point-in-time view of the scanner.
type ScannerStats struct {
	Cycles             uint64    `json:"cycles"`
	Aborted            uint64    `json:"aborted"`
	AccountsFetched    uint64    `json:"accounts_fetched"`
	FetchFailures      uint64    `json:"fetch_failures"`
	LastScanAt         time.Time `json:"last_scan_at,omitempty"`
	LastScanDuration   string    `json:"last_scan_duration,omitempty"`
	LastScanAddresses  int       `json:"last_scan_addresses"`
	TrackedPositions   int       `json:"tracked_positions"`
	ImmediateQueued    uint64    `json:"immediate_queued"`
	ImmediateCompleted uint64    `json:"immediate_completed"`
	ImmediateCoalesced uint64    `json:"immediate_coalesced"`
	ImmediateDropped   uint64    `json:"immediate_dropped"`
	QueueDepth         int       `json:"queue_depth"`
}

// Scanner polls registered addresses, evaluates their positions and owns the
// tracked-position set. Full scans replace the set; immediate scans merge
// into it.
type Scanner struct {
	logger     *zap.Logger
	positions  PositionSource
	market     MarketDataSource
	cache      *MarketCache
	registry   *Registry
	enrichment *EnrichmentCache
	alerter    *Alerter
	now        func() time.Time

	evaluator atomic.Pointer[Evaluator]

	cfgMu         sync.RWMutex
	cfg           config.ScannerConfig
	alertMinLevel DangerLevel

	mu                sync.RWMutex
	tracked           []EvaluatedPosition
	lastScanAt        time.Time
	lastScanDuration  time.Duration
	lastScanAddresses int

	queue      chan scanRequest
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	cycles             uint64
	aborted            uint64
	fetched            uint64
	fetchFailures      uint64
	immediateQueued    uint64
	immediateCompleted uint64
	immediateCoalesced uint64
	immediateDropped   uint64
}

func NewScanner(
	logger *zap.Logger,
	positions PositionSource,
	market MarketDataSource,
	cache *MarketCache,
	registry *Registry,
	enrichment *EnrichmentCache,
	alerter *Alerter,
	cfg *config.Config,
) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}

	queueSize := cfg.Scanner.ImmediateQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	s := &Scanner{
		logger:     logger,
		positions:  positions,
		market:     market,
		cache:      cache,
		registry:   registry,
		enrichment: enrichment,
		alerter:    alerter,
		now:        time.Now,
		queue:      make(chan scanRequest, queueSize),
		inflight:   make(map[string]struct{}),
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps in new scan settings and risk thresholds.
func (s *Scanner) UpdateConfig(cfg *config.Config) {
	s.evaluator.Store(NewEvaluatorFromConfig(cfg.Risk))

	level, ok := ParseDangerLevel(cfg.Risk.AlertMinLevel)
	if !ok {
		level = LevelWarning
	}

	s.cfgMu.Lock()
	s.cfg = cfg.Scanner
	s.alertMinLevel = level
	s.cfgMu.Unlock()
}

func (s *Scanner) scanConfig() (config.ScannerConfig, DangerLevel) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg, s.alertMinLevel
}

// Run performs a full scan immediately and then every RefreshInterval.
func (s *Scanner) Run(ctx context.Context) {
	cfg, _ := s.scanConfig()
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
			if next, _ := s.scanConfig(); next.RefreshInterval > 0 && next.RefreshInterval != interval {
				interval = next.RefreshInterval
				ticker.Reset(interval)
				s.logger.Info("scan interval changed", zap.Duration("interval", interval))
			}
		}
	}
}

func (s *Scanner) runCycle(ctx context.Context) {
	if err := s.ScanAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("full scan aborted, keeping previous snapshot", zap.Error(err))
	}
}

// ScanAll fetches every registered address and replaces the tracked set.
// When prices are unavailable or every fetch fails the previous set is kept.
func (s *Scanner) ScanAll(ctx context.Context) error {
	start := s.now()
	atomic.AddUint64(&s.cycles, 1)

	if err := s.ensurePrices(ctx); err != nil {
		atomic.AddUint64(&s.aborted, 1)
		RecordScanCycle("no_prices", 0)
		return err
	}

	addrs := s.registry.Addresses()
	accounts, failed := s.fetchAccounts(ctx, addrs)
	if err := ctx.Err(); err != nil {
		atomic.AddUint64(&s.aborted, 1)
		RecordScanCycle("canceled", 0)
		return err
	}
	if len(addrs) > 0 && len(failed) == len(addrs) {
		atomic.AddUint64(&s.aborted, 1)
		RecordScanCycle("all_failed", 0)
		return fmt.Errorf("%w: %d addresses", ErrAllFetchesFailed, len(addrs))
	}

	now := s.now()
	var fresh []EvaluatedPosition
	for _, addr := range addrs {
		if snap, ok := accounts[addr]; ok {
			fresh = append(fresh, s.evaluateAccount(addr, snap, now)...)
		}
	}
	s.enrichAll(ctx, fresh)

	inCycle := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		inCycle[addr] = struct{}{}
	}

	s.mu.Lock()
	prev := levelIndex(s.tracked)
	fresh = s.carryOver(fresh, inCycle, failed, start)
	sortByDistance(fresh)
	eligible := s.eligible(prev, fresh)
	s.tracked = fresh
	s.lastScanAt = now
	s.lastScanDuration = s.now().Sub(start)
	s.lastScanAddresses = len(addrs)
	s.mu.Unlock()

	UpdateTrackedPositions(fresh)
	RecordScanCycle("ok", s.now().Sub(start).Seconds())

	for _, p := range eligible {
		s.dispatch(p, nil)
	}

	s.logger.Info("full scan complete",
		zap.Int("addresses", len(addrs)),
		zap.Int("failed", len(failed)),
		zap.Int("tracked", len(fresh)),
		zap.Int("alerts", len(eligible)),
		zap.Duration("took", s.now().Sub(start)),
	)
	return nil
}

// carryOver folds tracked positions the cycle did not refresh into fresh.
// Failed fetches and addresses registered mid-cycle keep their entries.
// An immediate scan that landed after start wins over this cycle's result.
// Caller holds s.mu.
func (s *Scanner) carryOver(fresh []EvaluatedPosition, inCycle, failed map[string]struct{}, start time.Time) []EvaluatedPosition {
	newer := make(map[string]bool)
	for _, p := range s.tracked {
		if _, scanned := inCycle[p.Address]; scanned && p.EvaluatedAt.After(start) {
			newer[p.Address] = true
		}
	}

	out := fresh[:0]
	for _, p := range fresh {
		if !newer[p.Address] {
			out = append(out, p)
		}
	}

	for _, p := range s.tracked {
		_, scanned := inCycle[p.Address]
		_, didFail := failed[p.Address]
		switch {
		case didFail, newer[p.Address]:
			out = append(out, p)
		case !scanned:
			// Evicted addresses leave the tracked set with the next cycle.
			if _, ok := s.registry.Get(p.Address); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

// ScanAddress fetches one address out of band and merges its positions into
// the tracked set.
func (s *Scanner) ScanAddress(ctx context.Context, address string, trigger *hyperliquidws.Trade) error {
	if err := s.ensurePrices(ctx); err != nil {
		return err
	}

	snap, err := s.positions.GetAccountState(ctx, address)
	if err != nil {
		AccountFetches.WithLabelValues("error").Inc()
		atomic.AddUint64(&s.fetchFailures, 1)
		return fmt.Errorf("fetch account %s: %w", shortID(address), err)
	}
	if snap == nil {
		return fmt.Errorf("fetch account %s: empty response", shortID(address))
	}
	AccountFetches.WithLabelValues("ok").Inc()
	atomic.AddUint64(&s.fetched, 1)

	fresh := s.evaluateAccount(address, snap, s.now())
	s.enrichAll(ctx, fresh)

	for _, p := range s.merge(address, fresh) {
		var t *hyperliquidws.Trade
		if trigger != nil && trigger.Coin == p.Coin {
			t = trigger
		}
		s.dispatch(p, t)
	}
	return nil
}

// merge updates the tracked set with one address's fresh positions. Known
// keys are updated in place, new keys are prepended, and keys of this address
// missing from fresh are dropped.
func (s *Scanner) merge(address string, fresh []EvaluatedPosition) []EvaluatedPosition {
	byKey := make(map[positionKey]EvaluatedPosition, len(fresh))
	for _, p := range fresh {
		byKey[keyOf(p)] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := levelIndex(s.tracked)
	next := make([]EvaluatedPosition, 0, len(s.tracked)+len(fresh))
	for _, p := range fresh {
		if _, known := prev[keyOf(p)]; !known {
			next = append(next, p)
		}
	}
	for _, p := range s.tracked {
		if p.Address != address {
			next = append(next, p)
			continue
		}
		if np, ok := byKey[keyOf(p)]; ok {
			next = append(next, np)
		}
	}
	s.tracked = next

	return s.eligible(prev, fresh)
}

// eligible returns positions that are new to the tracked set or have become
// more dangerous, and that clear the alert level or carry an escalating label.
func (s *Scanner) eligible(prev map[positionKey]DangerLevel, fresh []EvaluatedPosition) []EvaluatedPosition {
	_, minLevel := s.scanConfig()

	var out []EvaluatedPosition
	for _, p := range fresh {
		if level, known := prev[keyOf(p)]; known && p.DangerLevel <= level {
			continue
		}
		if p.DangerLevel < minLevel && !p.Escalated {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Scanner) dispatch(p EvaluatedPosition, trigger *hyperliquidws.Trade) {
	if s.alerter == nil {
		return
	}
	s.alerter.Dispatch(p, notifier.AlertKindAtRisk, trigger)
}

// ensurePrices polls mark prices when the cache is stale.
func (s *Scanner) ensurePrices(ctx context.Context) error {
	cfg, _ := s.scanConfig()
	if !s.cache.IsStale(cfg.MarketStaleAfter) {
		return nil
	}

	prices, err := s.market.GetAllMarkPrices(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoMarkPrices, err)
	}
	if len(prices) == 0 {
		return ErrNoMarkPrices
	}
	s.cache.Replace(prices)
	return nil
}

// fetchAccounts fetches addrs in batches of BatchSize, at most MaxConcurrency
// at a time, pausing BatchDelay between batches. Failed addresses are
// returned in the second value and never abort the batch.
func (s *Scanner) fetchAccounts(ctx context.Context, addrs []string) (map[string]*hyperliquid.AccountSnapshot, map[string]struct{}) {
	cfg, _ := s.scanConfig()
	batchSize := max(cfg.BatchSize, 1)
	limit := max(cfg.MaxConcurrency, 1)

	var mu sync.Mutex
	results := make(map[string]*hyperliquid.AccountSnapshot, len(addrs))
	failed := make(map[string]struct{})

	for start := 0; start < len(addrs); start += batchSize {
		if start > 0 && cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, failed
			case <-time.After(cfg.BatchDelay):
			}
		}

		end := min(start+batchSize, len(addrs))

		var g errgroup.Group
		g.SetLimit(limit)
		for _, addr := range addrs[start:end] {
			g.Go(func() error {
				snap, err := s.positions.GetAccountState(ctx, addr)
				mu.Lock()
				defer mu.Unlock()
				if err != nil || snap == nil {
					failed[addr] = struct{}{}
					atomic.AddUint64(&s.fetchFailures, 1)
					AccountFetches.WithLabelValues("error").Inc()
					s.logger.Debug("account fetch failed",
						zap.String("address", shortID(addr)),
						zap.Error(err),
					)
					return nil
				}
				results[addr] = snap
				atomic.AddUint64(&s.fetched, 1)
				AccountFetches.WithLabelValues("ok").Inc()
				return nil
			})
		}
		_ = g.Wait()
	}

	return results, failed
}

func (s *Scanner) evaluateAccount(address string, snap *hyperliquid.AccountSnapshot, now time.Time) []EvaluatedPosition {
	ev := s.evaluator.Load()

	var out []EvaluatedPosition
	for _, raw := range snap.Positions {
		mark, ok := s.cache.Get(raw.Coin)
		if !ok {
			continue
		}
		if ep, ok := ev.Evaluate(address, raw, mark, snap, now); ok {
			out = append(out, ep)
		}
	}
	return out
}

func (s *Scanner) enrichAll(ctx context.Context, positions []EvaluatedPosition) {
	if s.enrichment == nil || len(positions) == 0 {
		return
	}
	cfg, _ := s.scanConfig()

	var g errgroup.Group
	g.SetLimit(max(cfg.MaxConcurrency, 1))
	for i := range positions {
		g.Go(func() error {
			s.enrichment.Enrich(ctx, &positions[i])
			return nil
		})
	}
	_ = g.Wait()
}

// RequestImmediate queues an out-of-band scan of address without blocking.
// Returns false when a scan for the address is already pending or the queue
// is full.
func (s *Scanner) RequestImmediate(address, coin string, trigger *hyperliquidws.Trade) bool {
	s.inflightMu.Lock()
	if _, busy := s.inflight[address]; busy {
		s.inflightMu.Unlock()
		atomic.AddUint64(&s.immediateCoalesced, 1)
		ImmediateScans.WithLabelValues("coalesced").Inc()
		return false
	}
	s.inflight[address] = struct{}{}
	s.inflightMu.Unlock()

	select {
	case s.queue <- scanRequest{address: address, coin: coin, trigger: trigger}:
		atomic.AddUint64(&s.immediateQueued, 1)
		ImmediateScans.WithLabelValues("queued").Inc()
		return true
	default:
		s.release(address)
		atomic.AddUint64(&s.immediateDropped, 1)
		ImmediateScans.WithLabelValues("dropped").Inc()
		s.logger.Warn("immediate scan queue full, dropping request",
			zap.String("address", shortID(address)),
			zap.String("coin", coin),
		)
		return false
	}
}

func (s *Scanner) release(address string) {
	s.inflightMu.Lock()
	delete(s.inflight, address)
	s.inflightMu.Unlock()
}

// RunImmediateWorkers drains the immediate-scan queue until ctx is done.
func (s *Scanner) RunImmediateWorkers(ctx context.Context) {
	cfg, _ := s.scanConfig()
	workers := max(cfg.ImmediateWorkers, 1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-s.queue:
					s.runImmediate(ctx, req)
				}
			}
		}()
	}
	wg.Wait()
}

func (s *Scanner) runImmediate(ctx context.Context, req scanRequest) {
	defer s.release(req.address)

	scanCtx, cancel := context.WithTimeout(ctx, immediateScanTimeout)
	defer cancel()

	if err := s.ScanAddress(scanCtx, req.address, req.trigger); err != nil {
		ImmediateScans.WithLabelValues("error").Inc()
		s.logger.Debug("immediate scan failed",
			zap.String("address", shortID(req.address)),
			zap.String("coin", req.coin),
			zap.Error(err),
		)
		return
	}
	atomic.AddUint64(&s.immediateCompleted, 1)
	ImmediateScans.WithLabelValues("completed").Inc()
}

// Tracked returns a copy of the tracked set in its current order.
func (s *Scanner) Tracked() []EvaluatedPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EvaluatedPosition, len(s.tracked))
	copy(out, s.tracked)
	return out
}

func (s *Scanner) TrackedPosition(address, coin string) (EvaluatedPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.tracked {
		if p.Address == address && p.Coin == coin {
			return p, true
		}
	}
	return EvaluatedPosition{}, false
}

// Remove drops one position from the tracked set. Returns false if it was not
// there, which lets concurrent callers agree on who removed it.
func (s *Scanner) Remove(address, coin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.tracked {
		if p.Address == address && p.Coin == coin {
			s.tracked = append(s.tracked[:i:i], s.tracked[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scanner) Stats() ScannerStats {
	s.mu.RLock()
	stats := ScannerStats{
		LastScanAt:        s.lastScanAt,
		LastScanAddresses: s.lastScanAddresses,
		TrackedPositions:  len(s.tracked),
	}
	if s.lastScanDuration > 0 {
		stats.LastScanDuration = s.lastScanDuration.Round(time.Millisecond).String()
	}
	s.mu.RUnlock()

	stats.Cycles = atomic.LoadUint64(&s.cycles)
	stats.Aborted = atomic.LoadUint64(&s.aborted)
	stats.AccountsFetched = atomic.LoadUint64(&s.fetched)
	stats.FetchFailures = atomic.LoadUint64(&s.fetchFailures)
	stats.ImmediateQueued = atomic.LoadUint64(&s.immediateQueued)
	stats.ImmediateCompleted = atomic.LoadUint64(&s.immediateCompleted)
	stats.ImmediateCoalesced = atomic.LoadUint64(&s.immediateCoalesced)
	stats.ImmediateDropped = atomic.LoadUint64(&s.immediateDropped)
	stats.QueueDepth = len(s.queue)
	return stats
}

func levelIndex(positions []EvaluatedPosition) map[positionKey]DangerLevel {
	idx := make(map[positionKey]DangerLevel, len(positions))
	for _, p := range positions {
		idx[keyOf(p)] = p.DangerLevel
	}
	return idx
}

func sortByDistance(positions []EvaluatedPosition) {
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].DistanceToLiq != positions[j].DistanceToLiq {
			return positions[i].DistanceToLiq < positions[j].DistanceToLiq
		}
		if positions[i].NotionalUSD != positions[j].NotionalUSD {
			return positions[i].NotionalUSD > positions[j].NotionalUSD
		}
		if positions[i].Address != positions[j].Address {
			return positions[i].Address < positions[j].Address
		}
		return positions[i].Coin < positions[j].Coin
	})
}
