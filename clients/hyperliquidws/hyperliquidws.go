package hyperliquidws

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"liqradar/config"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errIdleTimeout = errors.New("no trades within idle timeout")

// CoinLister supplies the instruments to subscribe to on every connect.
type CoinLister interface {
	GetInstrumentList(ctx context.Context) ([]string, error)
}

// Trade is one public trade print.
type Trade struct {
	Coin  string
	Side  string // "B" buyer aggressed, "A" seller aggressed
	Price float64
	Size  float64
	Time  time.Time
	Hash  string
	TID   int64
	Users [2]string // buyer, seller
}

// Notional returns |size| * price in USD.
func (t Trade) Notional() float64 {
	return math.Abs(t.Size) * t.Price
}

// StreamStats is a point-in-time view of the stream connection.
type StreamStats struct {
	MessageCount  uint64
	TradeCount    uint64
	Malformed     uint64
	Dropped       uint64
	Reconnects    uint64
	Connected     bool
	LastMessageAt time.Time
	LastTradeAt   time.Time
}

// StreamClient keeps one websocket to the venue open, subscribed to trades for
// every instrument plus the allMids channel, and reconnects with backoff
// whenever the socket fails or goes quiet.
type StreamClient struct {
	logger *zap.Logger

	url          string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	idleTimeout  time.Duration
	backoff      *Backoff

	coins       CoinLister
	staticCoins []string

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	tradesCh chan []Trade
	midsCh   chan map[string]float64

	msgCount          uint64
	tradeCount        uint64
	malformed         uint64
	dropped           uint64
	reconnects        uint64
	connected         int32
	lastMsgUnixNano   int64
	lastTradeUnixNano int64
}

func NewStreamClient(logger *zap.Logger, cfg *config.Config, coins CoinLister) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamClient{
		logger:       logger,
		url:          cfg.Hyperliquid.WSURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: cfg.Stream.PingInterval,
		idleTimeout:  cfg.Stream.IdleTimeout,
		backoff:      NewBackoff(cfg.Stream.ReconnectBaseDelay, cfg.Stream.ReconnectMaxDelay),
		coins:        coins,
		staticCoins:  cfg.Stream.Coins,

		tradesCh: make(chan []Trade, 1024),
		midsCh:   make(chan map[string]float64, 16),
	}
}

// Trades delivers trade batches in arrival order.
func (c *StreamClient) Trades() <-chan []Trade {
	return c.tradesCh
}

// Mids delivers allMids pushes.
func (c *StreamClient) Mids() <-chan map[string]float64 {
	return c.midsCh
}

// Run connects and keeps the stream alive until ctx is cancelled.
func (c *StreamClient) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		atomic.AddUint64(&c.reconnects, 1)
		delay := c.backoff.Next()
		c.logger.Warn("hyperliquid ws disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails, idles out or ctx ends.
func (c *StreamClient) session(ctx context.Context) error {
	coins, err := c.resolveCoins(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		atomic.StoreInt32(&c.connected, 0)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
	}()

	if err := c.subscribe(coins); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.backoff.Reset()
	atomic.StoreInt32(&c.connected, 1)
	atomic.StoreInt64(&c.lastTradeUnixNano, time.Now().UnixNano())
	c.logger.Info("hyperliquid ws connected",
		zap.String("url", c.url),
		zap.Int("coins", len(coins)),
	)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	go c.pingLoop(sessionCtx)
	go c.watchdog(sessionCtx, conn, &idle)
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if idle.Load() {
				return errIdleTimeout
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(b)
	}
}

func (c *StreamClient) resolveCoins(ctx context.Context) ([]string, error) {
	if len(c.staticCoins) > 0 {
		return c.staticCoins, nil
	}
	if c.coins == nil {
		return nil, errors.New("no instrument source configured")
	}
	coins, err := c.coins.GetInstrumentList(ctx)
	if err != nil {
		return nil, err
	}
	if len(coins) == 0 {
		return nil, errors.New("empty instrument list")
	}
	return coins, nil
}

func (c *StreamClient) subscribe(coins []string) error {
	if err := c.writeJSON(subscribeMsg(map[string]any{"type": "allMids"})); err != nil {
		return err
	}
	for _, coin := range coins {
		if err := c.writeJSON(subscribeMsg(map[string]any{"type": "trades", "coin": coin})); err != nil {
			return err
		}
	}
	return nil
}

func subscribeMsg(sub map[string]any) map[string]any {
	return map[string]any{"method": "subscribe", "subscription": sub}
}

func (c *StreamClient) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *StreamClient) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := c.writeJSON(map[string]any{"method": "ping"}); err != nil {
				c.logger.Debug("hyperliquid ws ping failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchdog closes conn when no trade has arrived for idleTimeout. The socket
// can stay open while the feed silently stalls.
func (c *StreamClient) watchdog(ctx context.Context, conn *websocket.Conn, idle *atomic.Bool) {
	check := c.idleTimeout / 4
	if check <= 0 {
		check = time.Second
	}
	t := time.NewTicker(check)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			last := time.Unix(0, atomic.LoadInt64(&c.lastTradeUnixNano))
			if time.Since(last) >= c.idleTimeout {
				c.logger.Warn("hyperliquid ws idle, forcing reconnect",
					zap.Duration("idle_for", time.Since(last)),
				)
				idle.Store(true)
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type envelope struct {
	Channel string              `json:"channel"`
	Data    jsoniter.RawMessage `json:"data"`
}

type wireTrade struct {
	Coin  string   `json:"coin"`
	Side  string   `json:"side"`
	Px    string   `json:"px"`
	Sz    string   `json:"sz"`
	Time  int64    `json:"time"`
	Hash  string   `json:"hash"`
	TID   int64    `json:"tid"`
	Users []string `json:"users"`
}

func (c *StreamClient) handleFrame(b []byte) {
	atomic.AddUint64(&c.msgCount, 1)
	atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		atomic.AddUint64(&c.malformed, 1)
		c.logger.Warn("hyperliquid ws bad frame", zap.Error(err), zap.ByteString("frame", truncate(b)))
		return
	}

	switch env.Channel {
	case "trades":
		trades := c.parseTrades(env.Data)
		if len(trades) == 0 {
			return
		}
		atomic.AddUint64(&c.tradeCount, uint64(len(trades)))
		atomic.StoreInt64(&c.lastTradeUnixNano, time.Now().UnixNano())
		select {
		case c.tradesCh <- trades:
		default:
			atomic.AddUint64(&c.dropped, 1)
			c.logger.Warn("dropping trade batch: trades channel full", zap.Int("trades", len(trades)))
		}

	case "allMids":
		mids := c.parseMids(env.Data)
		if len(mids) == 0 {
			return
		}
		select {
		case c.midsCh <- mids:
		default:
			// Next push supersedes it.
		}

	case "pong", "subscriptionResponse":

	default:
		c.logger.Debug("hyperliquid ws unhandled channel", zap.String("channel", env.Channel))
	}
}

func (c *StreamClient) parseTrades(data []byte) []Trade {
	var raw []wireTrade
	if err := json.Unmarshal(data, &raw); err != nil {
		atomic.AddUint64(&c.malformed, 1)
		c.logger.Warn("hyperliquid ws bad trades payload", zap.Error(err))
		return nil
	}

	trades := make([]Trade, 0, len(raw))
	for _, w := range raw {
		px, errPx := strconv.ParseFloat(w.Px, 64)
		sz, errSz := strconv.ParseFloat(w.Sz, 64)
		if errPx != nil || errSz != nil || px <= 0 || w.Coin == "" || len(w.Users) != 2 {
			atomic.AddUint64(&c.malformed, 1)
			c.logger.Warn("hyperliquid ws malformed trade dropped",
				zap.String("coin", w.Coin),
				zap.String("px", w.Px),
				zap.String("sz", w.Sz),
				zap.Int("users", len(w.Users)),
			)
			continue
		}
		trades = append(trades, Trade{
			Coin:  w.Coin,
			Side:  w.Side,
			Price: px,
			Size:  sz,
			Time:  time.UnixMilli(w.Time),
			Hash:  w.Hash,
			TID:   w.TID,
			Users: [2]string{w.Users[0], w.Users[1]},
		})
	}
	return trades
}

func (c *StreamClient) parseMids(data []byte) map[string]float64 {
	var raw struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		atomic.AddUint64(&c.malformed, 1)
		c.logger.Warn("hyperliquid ws bad allMids payload", zap.Error(err))
		return nil
	}

	mids := make(map[string]float64, len(raw.Mids))
	for coin, s := range raw.Mids {
		// Spot pairs come through as "@123"; only perps are of interest.
		if len(coin) > 0 && coin[0] == '@' {
			continue
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			mids[coin] = v
		}
	}
	return mids
}

func (c *StreamClient) Stats() StreamStats {
	var lastMsg, lastTrade time.Time
	if ns := atomic.LoadInt64(&c.lastMsgUnixNano); ns > 0 {
		lastMsg = time.Unix(0, ns)
	}
	if ns := atomic.LoadInt64(&c.lastTradeUnixNano); ns > 0 {
		lastTrade = time.Unix(0, ns)
	}

	return StreamStats{
		MessageCount:  atomic.LoadUint64(&c.msgCount),
		TradeCount:    atomic.LoadUint64(&c.tradeCount),
		Malformed:     atomic.LoadUint64(&c.malformed),
		Dropped:       atomic.LoadUint64(&c.dropped),
		Reconnects:    atomic.LoadUint64(&c.reconnects),
		Connected:     atomic.LoadInt32(&c.connected) == 1,
		LastMessageAt: lastMsg,
		LastTradeAt:   lastTrade,
	}
}

// Close drops the current connection; Run will reconnect unless its context
// is done.
func (c *StreamClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
