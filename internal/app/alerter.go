package app

import (
	"sync"
	"time"

	"liqradar/clients/hyperliquidws"
	"liqradar/clients/notifier"

	"go.uber.org/zap"
)

const maxRecentAlerts = 20

// RecentAlertInfo is one entry of the recent-alerts feed.
type RecentAlertInfo struct {
	Kind          string    `json:"kind"`
	Address       string    `json:"address"`
	Coin          string    `json:"coin"`
	Direction     string    `json:"direction"`
	DangerLevel   string    `json:"danger_level"`
	DistanceToLiq float64   `json:"distance_to_liq"`
	NotionalUSD   float64   `json:"notional_usd"`
	Labels        []string  `json:"labels,omitempty"`
	Platforms     []string  `json:"platforms"`
	At            time.Time `json:"at"`
}

// AlertStats counts dispatch outcomes.
type AlertStats struct {
	Sent        int       `json:"sent"`
	Suppressed  int       `json:"suppressed"`
	Liquidated  int       `json:"liquidated"`
	LastAlertAt time.Time `json:"last_alert_at,omitempty"`
}

// Alerter hands accepted positions to every enabled notifier, consulting the
// deduplicator per platform. Sends are fire-and-forget.
type Alerter struct {
	logger    *zap.Logger
	dedup     *Deduplicator
	notifiers []notifier.Notifier
	now       func() time.Time
	wg        sync.WaitGroup

	mu     sync.Mutex
	recent []RecentAlertInfo
	stats  AlertStats
}

func NewAlerter(logger *zap.Logger, dedup *Deduplicator, notifiers ...notifier.Notifier) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}

	var enabled []notifier.Notifier
	for _, n := range notifiers {
		if n != nil && n.Enabled() {
			enabled = append(enabled, n)
		}
	}

	return &Alerter{
		logger:    logger,
		dedup:     dedup,
		notifiers: enabled,
		now:       time.Now,
	}
}

// Dispatch sends p to every platform whose cooldown allows it and returns the
// platforms it was sent to.
func (a *Alerter) Dispatch(p EvaluatedPosition, kind notifier.AlertKind, trigger *hyperliquidws.Trade) []string {
	alert := toRiskAlert(p, kind, trigger, a.now())

	// A liquidation must not be swallowed by the at-risk cooldown of the
	// same position.
	dedupCoin := p.Coin
	if kind == notifier.AlertKindLiquidated {
		dedupCoin += "#liquidated"
	}

	var platforms []string
	suppressed := 0
	for _, n := range a.notifiers {
		platform := n.Platform()
		if !a.dedup.ShouldAlert(p.Address, dedupCoin, platform) {
			suppressed++
			RecordAlert(platform, string(kind), false)
			continue
		}
		platforms = append(platforms, platform)
		RecordAlert(platform, string(kind), true)

		a.wg.Add(1)
		go func(n notifier.Notifier) {
			defer a.wg.Done()
			n.SendAlert(alert)
		}(n)
	}

	a.mu.Lock()
	a.stats.Suppressed += suppressed
	if len(platforms) > 0 {
		a.stats.Sent++
		if kind == notifier.AlertKindLiquidated {
			a.stats.Liquidated++
		}
		a.stats.LastAlertAt = alert.Timestamp
		a.recent = append([]RecentAlertInfo{{
			Kind:          string(kind),
			Address:       p.Address,
			Coin:          p.Coin,
			Direction:     string(p.Direction),
			DangerLevel:   p.DangerLevel.String(),
			DistanceToLiq: p.DistanceToLiq,
			NotionalUSD:   p.NotionalUSD,
			Labels:        p.Labels,
			Platforms:     platforms,
			At:            alert.Timestamp,
		}}, a.recent...)
		if len(a.recent) > maxRecentAlerts {
			a.recent = a.recent[:maxRecentAlerts]
		}
	}
	a.mu.Unlock()

	if len(platforms) > 0 {
		a.logger.Info("risk alert dispatched",
			zap.String("kind", string(kind)),
			zap.String("address", shortID(p.Address)),
			zap.String("coin", p.Coin),
			zap.String("level", p.DangerLevel.String()),
			zap.Float64("distance", p.DistanceToLiq),
			zap.Float64("notional", p.NotionalUSD),
			zap.Strings("platforms", platforms),
		)
	} else {
		a.logger.Debug("risk alert suppressed by cooldown",
			zap.String("address", shortID(p.Address)),
			zap.String("coin", p.Coin),
		)
	}

	return platforms
}

// Wait blocks until in-flight sends finish.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

// RecentAlerts returns the latest alerts, newest first.
func (a *Alerter) RecentAlerts() []RecentAlertInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RecentAlertInfo, len(a.recent))
	copy(out, a.recent)
	return out
}

func (a *Alerter) Stats() AlertStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Platforms lists the enabled notifier platforms.
func (a *Alerter) Platforms() []string {
	out := make([]string, len(a.notifiers))
	for i, n := range a.notifiers {
		out[i] = n.Platform()
	}
	return out
}

func toRiskAlert(p EvaluatedPosition, kind notifier.AlertKind, trigger *hyperliquidws.Trade, now time.Time) notifier.RiskAlert {
	alert := notifier.RiskAlert{
		Kind: kind,
		Position: notifier.AlertPosition{
			Address:              p.Address,
			AddressURL:           addressURL(p.Address),
			Coin:                 p.Coin,
			Direction:            string(p.Direction),
			NotionalUSD:          p.NotionalUSD,
			Size:                 p.Size,
			EntryPrice:           p.EntryPrice,
			MarkPrice:            p.MarkPrice,
			LiquidationPrice:     p.LiquidationPrice,
			DistanceToLiq:        p.DistanceToLiq,
			DangerLevel:          p.DangerLevel.String(),
			Leverage:             p.Leverage,
			LeverageType:         p.LeverageType,
			UnrealizedPnl:        p.UnrealizedPnl,
			MarginUsed:           p.MarginUsed,
			WalletAgeDays:        p.WalletAgeDays,
			AllTimePnl:           p.AllTimePnl,
			IsNewAddress:         p.IsNewAddress,
			AccountValue:         p.AccountValue,
			AccountUnrealizedPnl: p.AccountUnrealizedPnl,
			OpenPositions:        p.OpenPositions,
			Labels:               p.Labels,
			Escalated:            p.Escalated,
		},
		Timestamp: now,
	}

	if trigger != nil {
		alert.TriggerTrade = &notifier.TradeInfo{
			Coin:     trigger.Coin,
			Side:     trigger.Side,
			Price:    trigger.Price,
			Size:     trigger.Size,
			Notional: trigger.Notional(),
			Hash:     trigger.Hash,
			Time:     trigger.Time,
		}
	}

	return alert
}
