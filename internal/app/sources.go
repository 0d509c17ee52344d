package app

import (
	"context"
	"errors"
	"time"

	"liqradar/clients/hyperliquid"
	"liqradar/clients/hyperliquidws"
	"liqradar/clients/store"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNoMarkPrices     = errors.New("mark prices unavailable")
	ErrAllFetchesFailed = errors.New("every account fetch in the cycle failed")
)

// MarketDataSource supplies mark prices and the tradable instrument list.
type MarketDataSource interface {
	GetAllMarkPrices(ctx context.Context) (map[string]float64, error)
	GetInstrumentList(ctx context.Context) ([]string, error)
}

// PositionSource fetches the margin summary and open positions of an address.
type PositionSource interface {
	GetAccountState(ctx context.Context, address string) (*hyperliquid.AccountSnapshot, error)
}

// EnrichmentSource supplies slow-changing per-address facts.
type EnrichmentSource interface {
	GetEarliestActivityTime(ctx context.Context, address string) (time.Time, error)
	GetAllTimeRealizedPnl(ctx context.Context, address string) (float64, error)
}

// LeaderboardSource lists high-value accounts for periodic import.
type LeaderboardSource interface {
	GetLeaderboard(ctx context.Context) ([]hyperliquid.LeaderboardEntry, error)
}

// TradeStream is the live trade feed. Run owns reconnects and returns when
// ctx is done.
type TradeStream interface {
	Trades() <-chan []hyperliquidws.Trade
	Mids() <-chan map[string]float64
	Run(ctx context.Context) error
	Stats() hyperliquidws.StreamStats
}

// WhaleStore persists discovered addresses across restarts.
type WhaleStore interface {
	LoadTopAddresses(ctx context.Context, limit int) ([]store.Whale, error)
	Upsert(ctx context.Context, address string, volumeDelta float64) error
	Count(ctx context.Context) (int, error)
}

var (
	_ MarketDataSource  = (*hyperliquid.Client)(nil)
	_ PositionSource    = (*hyperliquid.Client)(nil)
	_ EnrichmentSource  = (*hyperliquid.Client)(nil)
	_ LeaderboardSource = (*hyperliquid.Client)(nil)
	_ TradeStream       = (*hyperliquidws.StreamClient)(nil)
	_ WhaleStore        = (*store.WhaleStore)(nil)
)
