package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"liqradar/clients/hyperliquid"
	"liqradar/clients/hyperliquidws"
	"liqradar/clients/notifier"
	"liqradar/clients/store"
	"liqradar/config"
)

// testAddr returns a valid, distinct, lower-case address for n.
func testAddr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func ptr(v float64) *float64 {
	return &v
}

// testConfig returns defaults with delays short enough for tests.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Scanner.BatchDelay = 0
	cfg.Scanner.MarketStaleAfter = time.Minute
	cfg.Leaderboard.Enabled = false
	cfg.HealthServer.Enabled = false
	return cfg
}

// longPosition builds a long whose liquidation sits distance below mark.
func longPosition(coin string, size, mark, distance float64) hyperliquid.Position {
	liq := mark * (1 - distance)
	return hyperliquid.Position{
		Coin:             coin,
		Size:             size,
		EntryPrice:       mark,
		LiquidationPrice: &liq,
		Leverage:         hyperliquid.Leverage{Type: "cross", Value: 20},
	}
}

// MockMarketSource is a mock implementation of MarketDataSource.
type MockMarketSource struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func NewMockMarketSource(prices map[string]float64) *MockMarketSource {
	return &MockMarketSource{prices: prices}
}

func (m *MockMarketSource) GetAllMarkPrices(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]float64, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out, nil
}

func (m *MockMarketSource) GetInstrumentList(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coins := make([]string, 0, len(m.prices))
	for coin := range m.prices {
		coins = append(coins, coin)
	}
	return coins, nil
}

func (m *MockMarketSource) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockMarketSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockPositionSource is a mock implementation of PositionSource.
type MockPositionSource struct {
	mu       sync.Mutex
	accounts map[string]*hyperliquid.AccountSnapshot
	errs     map[string]error
	calls    map[string]int
	holds    map[string]*fetchHold
}

type fetchHold struct {
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func NewMockPositionSource() *MockPositionSource {
	return &MockPositionSource{
		accounts: make(map[string]*hyperliquid.AccountSnapshot),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		holds:    make(map[string]*fetchHold),
	}
}

// Hold makes fetches of address wait until release is called. entered is
// closed once a fetch is waiting.
func (m *MockPositionSource) Hold(address string) (entered <-chan struct{}, release func()) {
	h := &fetchHold{entered: make(chan struct{}), release: make(chan struct{})}
	m.mu.Lock()
	m.holds[address] = h
	m.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

func (m *MockPositionSource) SetPositions(address string, positions ...hyperliquid.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[address] = &hyperliquid.AccountSnapshot{
		Address:      address,
		AccountValue: 1_000_000,
		Positions:    positions,
	}
	delete(m.errs, address)
}

func (m *MockPositionSource) SetErr(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[address] = err
}

func (m *MockPositionSource) GetAccountState(ctx context.Context, address string) (*hyperliquid.AccountSnapshot, error) {
	m.mu.Lock()
	h := m.holds[address]
	m.mu.Unlock()
	if h != nil {
		h.once.Do(func() { close(h.entered) })
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[address]++
	if err := m.errs[address]; err != nil {
		return nil, err
	}
	if snap, ok := m.accounts[address]; ok {
		cp := *snap
		return &cp, nil
	}
	return &hyperliquid.AccountSnapshot{Address: address}, nil
}

func (m *MockPositionSource) Calls(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[address]
}

// MockEnrichmentSource is a mock implementation of EnrichmentSource.
type MockEnrichmentSource struct {
	mu         sync.Mutex
	firstSeen  map[string]time.Time
	pnl        map[string]float64
	err        error
	firstCalls atomic.Int32
	pnlCalls   atomic.Int32
	release    chan struct{} // when set, fetches wait on it
}

func NewMockEnrichmentSource() *MockEnrichmentSource {
	return &MockEnrichmentSource{
		firstSeen: make(map[string]time.Time),
		pnl:       make(map[string]float64),
	}
}

func (m *MockEnrichmentSource) GetEarliestActivityTime(ctx context.Context, address string) (time.Time, error) {
	m.firstCalls.Add(1)
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return time.Time{}, m.err
	}
	t, ok := m.firstSeen[address]
	if !ok {
		return time.Time{}, hyperliquid.ErrNoActivity
	}
	return t, nil
}

func (m *MockEnrichmentSource) GetAllTimeRealizedPnl(ctx context.Context, address string) (float64, error) {
	m.pnlCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	pnl, ok := m.pnl[address]
	if !ok {
		return 0, hyperliquid.ErrNoActivity
	}
	return pnl, nil
}

func (m *MockEnrichmentSource) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// MockLeaderboardSource is a mock implementation of LeaderboardSource.
type MockLeaderboardSource struct {
	entries []hyperliquid.LeaderboardEntry
	err     error
}

func (m *MockLeaderboardSource) GetLeaderboard(ctx context.Context) ([]hyperliquid.LeaderboardEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]hyperliquid.LeaderboardEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// MockTradeStream is a mock implementation of TradeStream fed by the test.
type MockTradeStream struct {
	trades chan []hyperliquidws.Trade
	mids   chan map[string]float64
	stats  hyperliquidws.StreamStats
}

func NewMockTradeStream() *MockTradeStream {
	return &MockTradeStream{
		trades: make(chan []hyperliquidws.Trade, 16),
		mids:   make(chan map[string]float64, 16),
		stats:  hyperliquidws.StreamStats{Connected: true},
	}
}

func (m *MockTradeStream) Trades() <-chan []hyperliquidws.Trade { return m.trades }

func (m *MockTradeStream) Mids() <-chan map[string]float64 { return m.mids }

func (m *MockTradeStream) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *MockTradeStream) Stats() hyperliquidws.StreamStats { return m.stats }

// MockWhaleStore is a mock implementation of WhaleStore.
type MockWhaleStore struct {
	mu      sync.Mutex
	whales  []store.Whale
	volumes map[string]float64
	loadErr error
	saveErr error
}

func NewMockWhaleStore(whales ...store.Whale) *MockWhaleStore {
	return &MockWhaleStore{
		whales:  whales,
		volumes: make(map[string]float64),
	}
}

func (m *MockWhaleStore) LoadTopAddresses(ctx context.Context, limit int) ([]store.Whale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := m.whales
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]store.Whale(nil), out...), nil
}

func (m *MockWhaleStore) Upsert(ctx context.Context, address string, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.volumes[address] += volume
	return nil
}

func (m *MockWhaleStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	seen := make(map[string]struct{}, len(m.whales)+len(m.volumes))
	for _, w := range m.whales {
		seen[w.Address] = struct{}{}
	}
	for addr := range m.volumes {
		seen[addr] = struct{}{}
	}
	return len(seen), nil
}

func (m *MockWhaleStore) Volume(address string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volumes[address]
}

// MockNotifier is a mock implementation of notifier.Notifier that records
// every alert it receives.
type MockNotifier struct {
	platform string
	enabled  bool

	mu     sync.Mutex
	alerts []notifier.RiskAlert
}

func NewMockNotifier(platform string) *MockNotifier {
	return &MockNotifier{platform: platform, enabled: true}
}

func (m *MockNotifier) Platform() string { return m.platform }

func (m *MockNotifier) Enabled() bool { return m.enabled }

func (m *MockNotifier) SendAlert(alert notifier.RiskAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

func (m *MockNotifier) Close() error { return nil }

func (m *MockNotifier) Alerts() []notifier.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notifier.RiskAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
