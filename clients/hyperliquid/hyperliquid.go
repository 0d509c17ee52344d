package hyperliquid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liqradar/config"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoActivity is returned when an address has no fills on record.
var ErrNoActivity = errors.New("no activity recorded")

// StatusError is returned for non-2xx responses after retries are exhausted.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}

// Client talks to the public Hyperliquid info API.
type Client struct {
	logger         *zap.Logger
	httpClient     *http.Client
	infoURL        string
	leaderboardURL string
	maxRetries     int
	retryBaseDelay time.Duration
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Hyperliquid.RequestTimeout,
		},
		infoURL:        cfg.Hyperliquid.InfoURL,
		leaderboardURL: cfg.Hyperliquid.LeaderboardURL,
		maxRetries:     cfg.Hyperliquid.MaxRetries,
		retryBaseDelay: cfg.Hyperliquid.RetryBaseDelay,
	}
}

// ---- Domain types ----

// Leverage describes how a position is margined. Zero value means unknown.
type Leverage struct {
	Type  string  `json:"type"` // cross or isolated
	Value float64 `json:"value"`
}

// Position is one open perpetual position as reported by the venue.
type Position struct {
	Coin             string
	Size             float64 // signed: positive long, negative short
	EntryPrice       float64
	LiquidationPrice *float64 // nil when the venue reports no liquidation price
	Leverage         Leverage
	MarginUsed       float64
	UnrealizedPnl    float64
	PositionValue    float64
}

// AccountSnapshot is the margin summary and open positions of one address.
type AccountSnapshot struct {
	Address         string
	AccountValue    float64
	Withdrawable    float64
	TotalMarginUsed float64
	Positions       []Position
	FetchedAt       time.Time
}

// LeaderboardEntry is one row of the public leaderboard.
type LeaderboardEntry struct {
	Address      string
	AccountValue float64
	DisplayName  string
	AllTimePnl   float64
}

// ---- Wire types ----

// flexFloat decodes numbers the venue sends either as JSON strings or numbers.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

type universeAsset struct {
	Name       string `json:"name"`
	IsDelisted bool   `json:"isDelisted"`
}

type assetCtx struct {
	MarkPx *flexFloat `json:"markPx"`
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    flexFloat `json:"accountValue"`
		TotalMarginUsed flexFloat `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   flexFloat `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string     `json:"coin"`
			Szi           flexFloat  `json:"szi"`
			EntryPx       flexFloat  `json:"entryPx"`
			PositionValue flexFloat  `json:"positionValue"`
			UnrealizedPnl flexFloat  `json:"unrealizedPnl"`
			LiquidationPx *flexFloat `json:"liquidationPx"`
			MarginUsed    flexFloat  `json:"marginUsed"`
			Leverage      struct {
				Type  string    `json:"type"`
				Value flexFloat `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type userFill struct {
	Time int64 `json:"time"`
}

type leaderboardResponse struct {
	LeaderboardRows []struct {
		EthAddress         string                  `json:"ethAddress"`
		AccountValue       flexFloat               `json:"accountValue"`
		DisplayName        *string                 `json:"displayName"`
		WindowPerformances [][]jsoniter.RawMessage `json:"windowPerformances"`
	} `json:"leaderboardRows"`
}

// ---- Market data ----

// getMetaAndAssetCtxs returns the instrument universe and matching contexts.
func (c *Client) getMetaAndAssetCtxs(ctx context.Context) ([]universeAsset, []assetCtx, error) {
	var raw []jsoniter.RawMessage
	if err := c.postInfo(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("metaAndAssetCtxs: expected 2 elements, got %d", len(raw))
	}

	var meta struct {
		Universe []universeAsset `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, fmt.Errorf("decode meta: %w", err)
	}

	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, fmt.Errorf("decode asset ctxs: %w", err)
	}

	return meta.Universe, ctxs, nil
}

// GetAllMarkPrices returns the current mark price of every listed perpetual.
func (c *Client) GetAllMarkPrices(ctx context.Context) (map[string]float64, error) {
	universe, ctxs, err := c.getMetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(universe))
	for i, asset := range universe {
		if i >= len(ctxs) {
			break
		}
		if ctxs[i].MarkPx == nil {
			continue
		}
		if px := float64(*ctxs[i].MarkPx); px > 0 {
			prices[asset.Name] = px
		}
	}

	return prices, nil
}

// GetInstrumentList returns the names of all tradable perpetuals.
func (c *Client) GetInstrumentList(ctx context.Context) ([]string, error) {
	universe, _, err := c.getMetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}

	coins := make([]string, 0, len(universe))
	for _, asset := range universe {
		if asset.IsDelisted || asset.Name == "" {
			continue
		}
		coins = append(coins, asset.Name)
	}

	return coins, nil
}

// ---- Accounts ----

// GetAccountState fetches the margin summary and open positions of address.
func (c *Client) GetAccountState(ctx context.Context, address string) (*AccountSnapshot, error) {
	var state clearinghouseState
	body := map[string]any{"type": "clearinghouseState", "user": address}
	if err := c.postInfo(ctx, body, &state); err != nil {
		return nil, err
	}

	snap := &AccountSnapshot{
		Address:         address,
		AccountValue:    float64(state.MarginSummary.AccountValue),
		Withdrawable:    float64(state.Withdrawable),
		TotalMarginUsed: float64(state.MarginSummary.TotalMarginUsed),
		Positions:       make([]Position, 0, len(state.AssetPositions)),
		FetchedAt:       time.Now(),
	}

	for _, ap := range state.AssetPositions {
		p := ap.Position
		pos := Position{
			Coin:          p.Coin,
			Size:          float64(p.Szi),
			EntryPrice:    float64(p.EntryPx),
			MarginUsed:    float64(p.MarginUsed),
			UnrealizedPnl: float64(p.UnrealizedPnl),
			PositionValue: float64(p.PositionValue),
			Leverage: Leverage{
				Type:  p.Leverage.Type,
				Value: float64(p.Leverage.Value),
			},
		}
		if p.LiquidationPx != nil && *p.LiquidationPx > 0 {
			liq := float64(*p.LiquidationPx)
			pos.LiquidationPrice = &liq
		}
		snap.Positions = append(snap.Positions, pos)
	}

	return snap, nil
}

// GetEarliestActivityTime returns when address first showed up on the venue.
// The allTime portfolio history reaches back to account creation; fills are
// only consulted when no history is sampled yet, since userFillsByTime
// returns at most the latest 10000 fills.
func (c *Client) GetEarliestActivityTime(ctx context.Context, address string) (time.Time, error) {
	history, err := c.allTimePortfolio(ctx, address)
	if err != nil && !errors.Is(err, ErrNoActivity) {
		return time.Time{}, err
	}
	if history != nil {
		if earliest := history.earliest(); earliest > 0 {
			return time.UnixMilli(earliest), nil
		}
	}
	return c.earliestFill(ctx, address)
}

func (c *Client) earliestFill(ctx context.Context, address string) (time.Time, error) {
	var fills []userFill
	body := map[string]any{"type": "userFillsByTime", "user": address, "startTime": 0}
	if err := c.postInfo(ctx, body, &fills); err != nil {
		return time.Time{}, err
	}

	var earliest int64
	for _, f := range fills {
		if f.Time > 0 && (earliest == 0 || f.Time < earliest) {
			earliest = f.Time
		}
	}
	if earliest == 0 {
		return time.Time{}, ErrNoActivity
	}

	return time.UnixMilli(earliest), nil
}

// GetAllTimeRealizedPnl returns the latest all-time PnL point from the
// portfolio history of address.
func (c *Client) GetAllTimeRealizedPnl(ctx context.Context, address string) (float64, error) {
	history, err := c.allTimePortfolio(ctx, address)
	if err != nil {
		return 0, err
	}
	if len(history.PnlHistory) == 0 {
		return 0, ErrNoActivity
	}
	last := history.PnlHistory[len(history.PnlHistory)-1]
	if len(last) < 2 {
		return 0, fmt.Errorf("malformed pnl history point")
	}
	return float64(last[1]), nil
}

// portfolioHistory holds [timestampMs, value] points.
type portfolioHistory struct {
	AccountValueHistory [][]flexFloat `json:"accountValueHistory"`
	PnlHistory          [][]flexFloat `json:"pnlHistory"`
}

// earliest returns the first sampled timestamp in ms, or 0.
func (h *portfolioHistory) earliest() int64 {
	var earliest int64
	for _, series := range [][][]flexFloat{h.AccountValueHistory, h.PnlHistory} {
		for _, point := range series {
			if len(point) == 0 {
				continue
			}
			if ts := int64(point[0]); ts > 0 && (earliest == 0 || ts < earliest) {
				earliest = ts
			}
		}
	}
	return earliest
}

// allTimePortfolio fetches the allTime window of the portfolio of address.
func (c *Client) allTimePortfolio(ctx context.Context, address string) (*portfolioHistory, error) {
	var periods [][]jsoniter.RawMessage
	body := map[string]any{"type": "portfolio", "user": address}
	if err := c.postInfo(ctx, body, &periods); err != nil {
		return nil, err
	}

	for _, period := range periods {
		if len(period) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(period[0], &name); err != nil || name != "allTime" {
			continue
		}

		var history portfolioHistory
		if err := json.Unmarshal(period[1], &history); err != nil {
			return nil, fmt.Errorf("decode allTime portfolio: %w", err)
		}
		return &history, nil
	}

	return nil, ErrNoActivity
}

// ---- Leaderboard ----

// GetLeaderboard fetches the public leaderboard.
func (c *Client) GetLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var resp leaderboardResponse
	if err := c.doWithRetry(ctx, http.MethodGet, c.leaderboardURL, nil, &resp); err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(resp.LeaderboardRows))
	for _, row := range resp.LeaderboardRows {
		if row.EthAddress == "" {
			continue
		}
		entry := LeaderboardEntry{
			Address:      strings.ToLower(row.EthAddress),
			AccountValue: float64(row.AccountValue),
		}
		if row.DisplayName != nil {
			entry.DisplayName = *row.DisplayName
		}
		entry.AllTimePnl = allTimeWindowPnl(row.WindowPerformances)
		entries = append(entries, entry)
	}

	return entries, nil
}

func allTimeWindowPnl(windows [][]jsoniter.RawMessage) float64 {
	for _, w := range windows {
		if len(w) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(w[0], &name); err != nil || name != "allTime" {
			continue
		}
		var perf struct {
			Pnl flexFloat `json:"pnl"`
		}
		if err := json.Unmarshal(w[1], &perf); err == nil {
			return float64(perf.Pnl)
		}
	}
	return 0
}

// ---- Transport ----

func (c *Client) postInfo(ctx context.Context, body any, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doWithRetry(ctx, http.MethodPost, c.infoURL, payload, dest)
}

// doWithRetry performs the request, retrying transient failures (network
// errors, 429 and 5xx) up to maxRetries times with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, dest any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying venue request",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.do(ctx, method, url, payload, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, dest any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

func isTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
