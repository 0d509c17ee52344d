package app

import (
	"fmt"
	"math"
	"strings"
	"time"

	"liqradar/clients/hyperliquid"
	"liqradar/config"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// DangerLevel buckets distance to liquidation. Higher is more severe.
type DangerLevel int

const (
	LevelWatch DangerLevel = iota + 1
	LevelWarning
	LevelCritical
)

func (l DangerLevel) String() string {
	switch l {
	case LevelWatch:
		return "WATCH"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l DangerLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *DangerLevel) UnmarshalText(b []byte) error {
	v, ok := ParseDangerLevel(string(b))
	if !ok {
		return fmt.Errorf("unknown danger level %q", b)
	}
	*l = v
	return nil
}

// ParseDangerLevel maps a level name to its value.
func ParseDangerLevel(s string) (DangerLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WATCH":
		return LevelWatch, true
	case "WARNING":
		return LevelWarning, true
	case "CRITICAL":
		return LevelCritical, true
	default:
		return 0, false
	}
}

// EvaluatedPosition is one risk-classified position. At most one exists per
// (address, coin) in the tracked set.
type EvaluatedPosition struct {
	Address          string      `json:"address"`
	Coin             string      `json:"coin"`
	Direction        Direction   `json:"direction"`
	NotionalUSD      float64     `json:"notional_usd"`
	Size             float64     `json:"size"`
	EntryPrice       float64     `json:"entry_price"`
	MarkPrice        float64     `json:"mark_price"`
	LiquidationPrice float64     `json:"liquidation_price"`
	DistanceToLiq    float64     `json:"distance_to_liq"`
	DangerLevel      DangerLevel `json:"danger_level"`
	Leverage         float64     `json:"leverage,omitempty"` // 0 = unknown
	LeverageType     string      `json:"leverage_type,omitempty"`
	UnrealizedPnl    float64     `json:"unrealized_pnl"`
	MarginUsed       float64     `json:"margin_used"`

	WalletAgeDays *float64 `json:"wallet_age_days,omitempty"`
	AllTimePnl    *float64 `json:"all_time_pnl,omitempty"`
	IsNewAddress  bool     `json:"is_new_address"`

	AccountValue         *float64 `json:"account_value,omitempty"`
	AccountUnrealizedPnl *float64 `json:"account_unrealized_pnl,omitempty"`
	OpenPositions        int      `json:"open_positions,omitempty"`

	Labels      []string  `json:"labels,omitempty"`
	Escalated   bool      `json:"escalated,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// EvaluatorConfig holds the classification thresholds.
type EvaluatorConfig struct {
	MinPositionUSD   float64
	MaxDistance      float64
	CriticalDistance float64 // inclusive
	WarningDistance  float64 // inclusive
}

// Evaluator classifies raw positions. It performs no I/O and holds no
// mutable state, so the same inputs always produce the same output.
type Evaluator struct {
	cfg   EvaluatorConfig
	rules []ClassificationRule
}

func NewEvaluator(cfg EvaluatorConfig, rules ...ClassificationRule) *Evaluator {
	return &Evaluator{cfg: cfg, rules: rules}
}

// NewEvaluatorFromConfig builds an evaluator with the vault-attack rule wired
// from the risk settings.
func NewEvaluatorFromConfig(risk config.RiskConfig) *Evaluator {
	return NewEvaluator(
		EvaluatorConfig{
			MinPositionUSD:   risk.MinPositionUSD,
			MaxDistance:      risk.MaxDistance,
			CriticalDistance: risk.CriticalDistance,
			WarningDistance:  risk.WarningDistance,
		},
		NewVaultAttackRule(risk.MajorCoins, risk.VaultAttackMinNotional, risk.RelaxedMaxDistance),
	)
}

// Classify maps a distance to its danger level.
func (e *Evaluator) Classify(distance float64) DangerLevel {
	return e.classify(decimal.NewFromFloat(distance))
}

// classify compares in decimal so a position sitting exactly on a bound at
// fractional prices lands on the inclusive side.
func (e *Evaluator) classify(distance decimal.Decimal) DangerLevel {
	switch {
	case distance.LessThanOrEqual(decimal.NewFromFloat(e.cfg.CriticalDistance)):
		return LevelCritical
	case distance.LessThanOrEqual(decimal.NewFromFloat(e.cfg.WarningDistance)):
		return LevelWarning
	default:
		return LevelWatch
	}
}

// distanceToLiq is the fraction of mark the price must move to reach liq.
func distanceToLiq(mark, liq float64, short bool) decimal.Decimal {
	m, l := decimal.NewFromFloat(mark), decimal.NewFromFloat(liq)
	if short {
		return l.Sub(m).Div(m)
	}
	return m.Sub(l).Div(m)
}

// Evaluate returns the classified position, or false when the position is
// below the notional floor, has no usable liquidation price, is already past
// liquidation, or is further away than the effective max distance.
func (e *Evaluator) Evaluate(address string, raw hyperliquid.Position, mark float64, account *hyperliquid.AccountSnapshot, now time.Time) (EvaluatedPosition, bool) {
	if mark <= 0 || raw.Size == 0 || raw.LiquidationPrice == nil || *raw.LiquidationPrice <= 0 {
		return EvaluatedPosition{}, false
	}
	liq := *raw.LiquidationPrice

	notional := math.Abs(raw.Size) * mark
	if notional < e.cfg.MinPositionUSD {
		return EvaluatedPosition{}, false
	}

	dir := DirectionLong
	if raw.Size < 0 {
		dir = DirectionShort
	}
	dist := distanceToLiq(mark, liq, dir == DirectionShort)
	if dist.IsNegative() {
		return EvaluatedPosition{}, false
	}
	distance := dist.InexactFloat64()

	maxDistance := e.cfg.MaxDistance
	var labels []string
	escalated := false
	in := RuleInput{Coin: raw.Coin, NotionalUSD: notional, Distance: distance}
	for _, rule := range e.rules {
		out, ok := rule.Apply(in)
		if !ok {
			continue
		}
		if out.MaxDistance > maxDistance {
			maxDistance = out.MaxDistance
		}
		labels = append(labels, out.Labels...)
		escalated = escalated || out.Escalate
	}
	if dist.GreaterThan(decimal.NewFromFloat(maxDistance)) {
		return EvaluatedPosition{}, false
	}

	ep := EvaluatedPosition{
		Address:          address,
		Coin:             raw.Coin,
		Direction:        dir,
		NotionalUSD:      notional,
		Size:             raw.Size,
		EntryPrice:       raw.EntryPrice,
		MarkPrice:        mark,
		LiquidationPrice: liq,
		DistanceToLiq:    distance,
		DangerLevel:      e.classify(dist),
		Leverage:         raw.Leverage.Value,
		LeverageType:     raw.Leverage.Type,
		UnrealizedPnl:    raw.UnrealizedPnl,
		MarginUsed:       raw.MarginUsed,
		Labels:           labels,
		Escalated:        escalated,
		EvaluatedAt:      now,
	}

	if account != nil {
		value := account.AccountValue
		var upnl float64
		open := 0
		for _, p := range account.Positions {
			if p.Size == 0 {
				continue
			}
			upnl += p.UnrealizedPnl
			open++
		}
		ep.AccountValue = &value
		ep.AccountUnrealizedPnl = &upnl
		ep.OpenPositions = open
	}

	return ep, true
}
