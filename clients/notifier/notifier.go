package notifier

import (
	"fmt"
	"math"
	"time"
)

// AlertKind distinguishes a position nearing liquidation from one that was
// just liquidated.
type AlertKind string

const (
	AlertKindAtRisk     AlertKind = "at_risk"
	AlertKindLiquidated AlertKind = "liquidated"
)

// Danger levels as carried on the payload.
const (
	LevelWatch    = "WATCH"
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// AlertPosition is the evaluated position an alert is about.
type AlertPosition struct {
	Address          string
	AddressURL       string
	Coin             string
	Direction        string // LONG or SHORT
	NotionalUSD      float64
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	DistanceToLiq    float64 // fraction, 0.05 = 5%
	DangerLevel      string
	Leverage         float64 // 0 = unknown
	LeverageType     string
	UnrealizedPnl    float64
	MarginUsed       float64

	// Enrichment, nil when unknown
	WalletAgeDays *float64
	AllTimePnl    *float64
	IsNewAddress  bool

	// Account aggregation, nil when no snapshot was available
	AccountValue         *float64
	AccountUnrealizedPnl *float64
	OpenPositions        int

	Labels    []string
	Escalated bool
}

// TradeInfo is the trade that triggered an alert, when there was one.
type TradeInfo struct {
	Coin     string
	Side     string
	Price    float64
	Size     float64
	Notional float64
	Hash     string
	Time     time.Time
}

// RiskAlert contains all the data needed for a risk alert notification.
type RiskAlert struct {
	Kind         AlertKind
	Position     AlertPosition
	TriggerTrade *TradeInfo
	Timestamp    time.Time
}

// Title returns a one-line headline for the alert.
func (a RiskAlert) Title() string {
	p := a.Position
	if a.Kind == AlertKindLiquidated {
		return fmt.Sprintf("💥 Liquidated: %s %s %s", FormatUSD(p.NotionalUSD), p.Coin, p.Direction)
	}

	icon := "👀"
	switch p.DangerLevel {
	case LevelCritical:
		icon = "🚨"
	case LevelWarning:
		icon = "⚠️"
	}
	title := fmt.Sprintf("%s %s: %s %s %s", icon, p.DangerLevel, FormatUSD(p.NotionalUSD), p.Coin, p.Direction)
	if HasLabel(p.Labels, "vault_attack") {
		title += " (possible vault attack)"
	}
	return title
}

// HasLabel reports whether labels contains label.
func HasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// FormatUSD renders a dollar amount compactly: $1.23B, $4.50M, $12.3K, $950.
func FormatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%s$%.1fK", sign, v/1e3)
	default:
		return fmt.Sprintf("%s$%.0f", sign, v)
	}
}

// FormatPrice renders a price with precision suited to its magnitude.
func FormatPrice(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1000:
		return fmt.Sprintf("$%.1f", v)
	case abs >= 1:
		return fmt.Sprintf("$%.3f", v)
	default:
		return fmt.Sprintf("$%.6f", v)
	}
}

// ShortAddress truncates an address to its first and last six characters.
func ShortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Notifier is the interface for sending risk alerts to a delivery platform.
type Notifier interface {
	// Platform names the delivery channel; cooldowns are tracked per platform.
	Platform() string

	// Enabled reports whether the notifier is configured to deliver.
	Enabled() bool

	// SendAlert delivers the alert. Delivery is best-effort; failures are
	// logged by the implementation.
	SendAlert(alert RiskAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
// Nil and disabled notifiers are dropped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil && n.Enabled() {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// Notifiers returns the active notifiers.
func (m *MultiNotifier) Notifiers() []Notifier {
	out := make([]Notifier, len(m.notifiers))
	copy(out, m.notifiers)
	return out
}

// Platform implements Notifier.
func (m *MultiNotifier) Platform() string {
	return "multi"
}

// Enabled implements Notifier.
func (m *MultiNotifier) Enabled() bool {
	return len(m.notifiers) > 0
}

// SendAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendAlert(alert RiskAlert) {
	for _, n := range m.notifiers {
		n.SendAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
