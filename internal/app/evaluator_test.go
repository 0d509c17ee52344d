package app

import (
	"math"
	"testing"
	"time"

	"liqradar/clients/hyperliquid"
)

func testEvaluator() *Evaluator {
	return NewEvaluatorFromConfig(testConfig().Risk)
}

func TestEvaluator_Classify(t *testing.T) {
	ev := testEvaluator()

	tests := []struct {
		distance float64
		want     DangerLevel
	}{
		{0, LevelCritical},
		{0.0316, LevelCritical},
		{0.05, LevelCritical}, // inclusive
		{0.0501, LevelWarning},
		{0.10, LevelWarning}, // inclusive
		{0.12, LevelWatch},
	}

	for _, tt := range tests {
		if got := ev.Classify(tt.distance); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	ev := testEvaluator()
	now := time.Now()
	addr := testAddr(1)

	tests := []struct {
		name      string
		pos       hyperliquid.Position
		mark      float64
		wantOK    bool
		wantLevel DangerLevel
		wantDir   Direction
		wantDist  float64
	}{
		{
			name:      "btc long near liquidation",
			pos:       hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(92000)},
			mark:      95000,
			wantOK:    true,
			wantLevel: LevelCritical,
			wantDir:   DirectionLong,
			wantDist:  3000.0 / 95000.0,
		},
		{
			name:      "eth long exactly at critical bound",
			pos:       hyperliquid.Position{Coin: "ETH", Size: 1500, LiquidationPrice: ptr(1900)},
			mark:      2000,
			wantOK:    true,
			wantLevel: LevelCritical,
			wantDir:   DirectionLong,
			wantDist:  0.05,
		},
		{
			name:      "eth short exactly at critical bound",
			pos:       hyperliquid.Position{Coin: "ETH", Size: -2_500_000.0 / 3000, LiquidationPrice: ptr(3150)},
			mark:      3000,
			wantOK:    true,
			wantLevel: LevelCritical,
			wantDir:   DirectionShort,
			wantDist:  0.05,
		},
		{
			name:      "fractional short at critical bound",
			pos:       hyperliquid.Position{Coin: "WIF", Size: -10_000_000, LiquidationPrice: ptr(0.315)},
			mark:      0.3,
			wantOK:    true,
			wantLevel: LevelCritical,
			wantDir:   DirectionShort,
			wantDist:  0.05,
		},
		{
			name:      "sub-cent short at critical bound",
			pos:       hyperliquid.Position{Coin: "PEPE", Size: -150_000_000, LiquidationPrice: ptr(0.021)},
			mark:      0.02,
			wantOK:    true,
			wantLevel: LevelCritical,
			wantDir:   DirectionShort,
			wantDist:  0.05,
		},
		{
			name:      "fractional long at warning bound",
			pos:       hyperliquid.Position{Coin: "WIF", Size: 10_000_000, LiquidationPrice: ptr(0.27)},
			mark:      0.3,
			wantOK:    true,
			wantLevel: LevelWarning,
			wantDir:   DirectionLong,
			wantDist:  0.1,
		},
		{
			name:      "short warning",
			pos:       hyperliquid.Position{Coin: "SOL", Size: -20000, LiquidationPrice: ptr(164)},
			mark:      150,
			wantOK:    true,
			wantLevel: LevelWarning,
			wantDir:   DirectionShort,
			wantDist:  14.0 / 150.0,
		},
		{
			name:   "below notional floor",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 20, LiquidationPrice: ptr(92000)}, // $1.9M
			mark:   95000,
			wantOK: false,
		},
		{
			name:   "beyond max distance",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(80000)},
			mark:   95000,
			wantOK: false,
		},
		{
			name:   "already past liquidation",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(96000)},
			mark:   95000,
			wantOK: false,
		},
		{
			name:   "no liquidation price",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 30},
			mark:   95000,
			wantOK: false,
		},
		{
			name:   "zero liquidation price",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(0)},
			mark:   95000,
			wantOK: false,
		},
		{
			name:   "zero mark",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(92000)},
			mark:   0,
			wantOK: false,
		},
		{
			name:   "flat position",
			pos:    hyperliquid.Position{Coin: "BTC", Size: 0, LiquidationPrice: ptr(92000)},
			mark:   95000,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ev.Evaluate(addr, tt.pos, tt.mark, nil, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.DangerLevel != tt.wantLevel {
				t.Errorf("level = %v, want %v", got.DangerLevel, tt.wantLevel)
			}
			if got.Direction != tt.wantDir {
				t.Errorf("direction = %v, want %v", got.Direction, tt.wantDir)
			}
			if math.Abs(got.DistanceToLiq-tt.wantDist) > 1e-12 {
				t.Errorf("distance = %v, want %v", got.DistanceToLiq, tt.wantDist)
			}
			if got.NotionalUSD != math.Abs(tt.pos.Size)*tt.mark {
				t.Errorf("notional = %v, want %v", got.NotionalUSD, math.Abs(tt.pos.Size)*tt.mark)
			}
			if got.NotionalUSD < testConfig().Risk.MinPositionUSD {
				t.Errorf("notional %v below floor", got.NotionalUSD)
			}
		})
	}
}

func TestEvaluator_Deterministic(t *testing.T) {
	ev := testEvaluator()
	now := time.Now()
	pos := hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(92000)}

	a, okA := ev.Evaluate(testAddr(1), pos, 95000, nil, now)
	b, okB := ev.Evaluate(testAddr(1), pos, 95000, nil, now)
	if !okA || !okB {
		t.Fatal("expected both evaluations to pass")
	}
	if a.DistanceToLiq != b.DistanceToLiq || a.DangerLevel != b.DangerLevel || a.NotionalUSD != b.NotionalUSD {
		t.Errorf("evaluations differ: %+v vs %+v", a, b)
	}
}

func TestEvaluator_LevelMonotonicInDistance(t *testing.T) {
	ev := testEvaluator()
	prev := LevelCritical
	for d := 0.0; d <= 0.2; d += 0.001 {
		level := ev.Classify(d)
		if level > prev {
			t.Fatalf("level rose from %v to %v as distance grew to %v", prev, level, d)
		}
		prev = level
	}
}

func TestEvaluator_VaultAttackRelaxesDistance(t *testing.T) {
	ev := testEvaluator()
	now := time.Now()

	// $6M non-major at 12% distance: tracked and escalated
	pos := hyperliquid.Position{Coin: "HYPE", Size: 200_000, LiquidationPrice: ptr(26.4)}
	got, ok := ev.Evaluate(testAddr(1), pos, 30, nil, now)
	if !ok {
		t.Fatal("vault attack position should be tracked")
	}
	if got.DangerLevel != LevelWatch {
		t.Errorf("level = %v, want WATCH", got.DangerLevel)
	}
	if !got.Escalated {
		t.Error("expected escalation")
	}
	if len(got.Labels) != 1 || got.Labels[0] != LabelVaultAttack {
		t.Errorf("labels = %v, want [%s]", got.Labels, LabelVaultAttack)
	}

	// Same distance on a major is out of range
	btc := hyperliquid.Position{Coin: "BTC", Size: 100, LiquidationPrice: ptr(95000 * 0.88)}
	if _, ok := ev.Evaluate(testAddr(1), btc, 95000, nil, now); ok {
		t.Error("major coin should not get the relaxed distance")
	}

	// Below the vault notional the default max distance applies
	small := hyperliquid.Position{Coin: "HYPE", Size: 100_000, LiquidationPrice: ptr(26.4)}
	if _, ok := ev.Evaluate(testAddr(1), small, 30, nil, now); ok {
		t.Error("small non-major position should not be relaxed")
	}
}

func TestEvaluator_AccountAggregates(t *testing.T) {
	ev := testEvaluator()
	pos := hyperliquid.Position{Coin: "BTC", Size: 30, LiquidationPrice: ptr(92000), UnrealizedPnl: -50_000}
	account := &hyperliquid.AccountSnapshot{
		AccountValue: 4_000_000,
		Positions: []hyperliquid.Position{
			pos,
			{Coin: "ETH", Size: 10, UnrealizedPnl: 20_000},
			{Coin: "SOL", Size: 0, UnrealizedPnl: 999},
		},
	}

	got, ok := ev.Evaluate(testAddr(1), pos, 95000, account, time.Now())
	if !ok {
		t.Fatal("expected position to pass")
	}
	if got.AccountValue == nil || *got.AccountValue != 4_000_000 {
		t.Errorf("AccountValue = %v, want 4000000", got.AccountValue)
	}
	if got.AccountUnrealizedPnl == nil || *got.AccountUnrealizedPnl != -30_000 {
		t.Errorf("AccountUnrealizedPnl = %v, want -30000", got.AccountUnrealizedPnl)
	}
	if got.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", got.OpenPositions)
	}
}

func TestParseDangerLevel(t *testing.T) {
	for _, name := range []string{"WATCH", "warning", " Critical "} {
		if _, ok := ParseDangerLevel(name); !ok {
			t.Errorf("ParseDangerLevel(%q) failed", name)
		}
	}
	if _, ok := ParseDangerLevel("PANIC"); ok {
		t.Error("unknown level should not parse")
	}

	text, _ := LevelCritical.MarshalText()
	if string(text) != "CRITICAL" {
		t.Errorf("MarshalText = %q", text)
	}
}
