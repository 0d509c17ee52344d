package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"liqradar/clients/hyperliquidws"
	"liqradar/clients/notifier"
	"liqradar/config"

	"go.uber.org/zap"
)

// Trade IDs remembered to drop replays after a resubscribe.
const seenTradeCapacity = 8192

// positionTracker is the part of the scanner the listener drives.
type positionTracker interface {
	RequestImmediate(address, coin string, trigger *hyperliquidws.Trade) bool
	TrackedPosition(address, coin string) (EvaluatedPosition, bool)
	Remove(address, coin string) bool
}

type listenerThresholds struct {
	discovery   float64
	immediate   float64
	liquidation float64
}

// ListenerStats counts what the trade path has done.
type ListenerStats struct {
	TradesProcessed    uint64 `json:"trades_processed"`
	DuplicateTrades    uint64 `json:"duplicate_trades"`
	WhaleTrades        uint64 `json:"whale_trades"`
	NewAddresses       uint64 `json:"new_addresses"`
	ImmediateRequested uint64 `json:"immediate_requested"`
	Liquidations       uint64 `json:"liquidations"`
	MidUpdates         uint64 `json:"mid_updates"`
}

// TradeListener consumes the trade stream: it keeps the market cache warm,
// registers counterparties of large trades, asks for immediate scans on very
// large ones and detects liquidations of tracked positions.
type TradeListener struct {
	logger   *zap.Logger
	stream   TradeStream
	cache    *MarketCache
	registry *Registry
	tracker  positionTracker
	alerter  *Alerter
	writer   *StoreWriter
	now      func() time.Time

	mu         sync.RWMutex
	thresholds listenerThresholds

	seenMu    sync.Mutex
	seen      map[int64]struct{}
	seenOrder []int64

	tradesProcessed    uint64
	duplicateTrades    uint64
	whaleTrades        uint64
	newAddresses       uint64
	immediateRequested uint64
	liquidations       uint64
	midUpdates         uint64
}

func NewTradeListener(
	logger *zap.Logger,
	stream TradeStream,
	cache *MarketCache,
	registry *Registry,
	tracker positionTracker,
	alerter *Alerter,
	writer *StoreWriter,
	cfg config.StreamConfig,
) *TradeListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	tl := &TradeListener{
		logger:   logger,
		stream:   stream,
		cache:    cache,
		registry: registry,
		tracker:  tracker,
		alerter:  alerter,
		writer:   writer,
		now:      time.Now,
		seen:     make(map[int64]struct{}, seenTradeCapacity),
	}
	tl.UpdateThresholds(cfg)
	return tl
}

func (tl *TradeListener) UpdateThresholds(cfg config.StreamConfig) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.thresholds = listenerThresholds{
		discovery:   cfg.DiscoveryThresholdUSD,
		immediate:   cfg.ImmediateCheckThresholdUSD,
		liquidation: cfg.LiquidationTradeUSD,
	}
}

// Run processes stream output until ctx is done. The stream itself is run by
// the caller.
func (tl *TradeListener) Run(ctx context.Context) {
	trades := tl.stream.Trades()
	mids := tl.stream.Mids()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-trades:
			if !ok {
				return
			}
			tl.HandleTrades(batch)
		case m, ok := <-mids:
			if !ok {
				mids = nil
				continue
			}
			atomic.AddUint64(&tl.midUpdates, 1)
			tl.cache.Merge(m)
		}
	}
}

// HandleTrades applies one batch of trades. It never blocks on I/O.
func (tl *TradeListener) HandleTrades(batch []hyperliquidws.Trade) {
	if len(batch) == 0 {
		return
	}

	tl.mu.RLock()
	th := tl.thresholds
	tl.mu.RUnlock()

	now := tl.now()
	lastPx := make(map[string]float64)
	registered := 0

	for i := range batch {
		t := batch[i]
		if tl.isDuplicate(t) {
			atomic.AddUint64(&tl.duplicateTrades, 1)
			continue
		}
		atomic.AddUint64(&tl.tradesProcessed, 1)
		TradesProcessed.Inc()

		if t.Price > 0 {
			lastPx[t.Coin] = t.Price
		}

		notional := t.Notional()
		if notional >= th.liquidation && th.liquidation > 0 {
			tl.checkLiquidations(t)
		}

		if notional < th.discovery {
			continue
		}
		atomic.AddUint64(&tl.whaleTrades, 1)

		for _, user := range t.Users {
			addr, err := normalizeAddress(user)
			if err != nil {
				continue
			}

			if tl.registry.Register(addr, notional, SourceStream, now) {
				atomic.AddUint64(&tl.newAddresses, 1)
				AddressesDiscovered.WithLabelValues(string(SourceStream)).Inc()
				tl.logger.Debug("discovered address",
					zap.String("address", shortID(addr)),
					zap.String("coin", t.Coin),
					zap.Float64("notional", notional),
				)
			}
			registered++
			tl.writer.Enqueue(addr, notional)

			if notional >= th.immediate {
				trade := t
				if tl.tracker.RequestImmediate(addr, t.Coin, &trade) {
					atomic.AddUint64(&tl.immediateRequested, 1)
				}
			}
		}
	}

	tl.cache.Merge(lastPx)

	if registered > 0 {
		if n := tl.registry.EvictIfOverCapacity(now); n > 0 {
			AddressesEvicted.Add(float64(n))
		}
		RegistrySize.Set(float64(tl.registry.Len()))
	}
}

// checkLiquidations reports a tracked position as liquidated when a trade it
// took part in printed through its liquidation price.
func (tl *TradeListener) checkLiquidations(t hyperliquidws.Trade) {
	for _, user := range t.Users {
		addr, err := normalizeAddress(user)
		if err != nil {
			continue
		}
		pos, ok := tl.tracker.TrackedPosition(addr, t.Coin)
		if !ok {
			continue
		}

		crossed := t.Price <= pos.LiquidationPrice
		if pos.Direction == DirectionShort {
			crossed = t.Price >= pos.LiquidationPrice
		}
		if !crossed {
			continue
		}

		// Whoever removes the position reports it, so it is reported once.
		if !tl.tracker.Remove(addr, t.Coin) {
			continue
		}

		atomic.AddUint64(&tl.liquidations, 1)
		LiquidationsDetected.WithLabelValues(t.Coin).Inc()

		pos.MarkPrice = t.Price
		pos.DistanceToLiq = 0
		pos.DangerLevel = LevelCritical

		tl.logger.Info("tracked position liquidated",
			zap.String("address", shortID(addr)),
			zap.String("coin", t.Coin),
			zap.String("direction", string(pos.Direction)),
			zap.Float64("liqPrice", pos.LiquidationPrice),
			zap.Float64("tradePrice", t.Price),
			zap.Float64("notional", pos.NotionalUSD),
		)

		if tl.alerter != nil {
			trade := t
			tl.alerter.Dispatch(pos, notifier.AlertKindLiquidated, &trade)
		}
	}
}

// isDuplicate reports whether the trade was already processed. Trades without
// an ID are never treated as duplicates.
func (tl *TradeListener) isDuplicate(t hyperliquidws.Trade) bool {
	if t.TID == 0 {
		return false
	}

	tl.seenMu.Lock()
	defer tl.seenMu.Unlock()

	if _, ok := tl.seen[t.TID]; ok {
		return true
	}
	tl.seen[t.TID] = struct{}{}
	tl.seenOrder = append(tl.seenOrder, t.TID)
	if len(tl.seenOrder) > seenTradeCapacity {
		oldest := tl.seenOrder[0]
		tl.seenOrder = tl.seenOrder[1:]
		delete(tl.seen, oldest)
	}
	return false
}

func (tl *TradeListener) Stats() ListenerStats {
	return ListenerStats{
		TradesProcessed:    atomic.LoadUint64(&tl.tradesProcessed),
		DuplicateTrades:    atomic.LoadUint64(&tl.duplicateTrades),
		WhaleTrades:        atomic.LoadUint64(&tl.whaleTrades),
		NewAddresses:       atomic.LoadUint64(&tl.newAddresses),
		ImmediateRequested: atomic.LoadUint64(&tl.immediateRequested),
		Liquidations:       atomic.LoadUint64(&tl.liquidations),
		MidUpdates:         atomic.LoadUint64(&tl.midUpdates),
	}
}
