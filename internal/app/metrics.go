package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Stream ============

var TradesProcessed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "stream",
		Name:      "trades_processed_total",
		Help:      "Trades consumed from the live feed",
	},
)

var AddressesDiscovered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "registry",
		Name:      "addresses_discovered_total",
		Help:      "Addresses registered for the first time, by source",
	},
	[]string{"source"},
)

var RegistrySize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "liqradar",
		Subsystem: "registry",
		Name:      "addresses",
		Help:      "Addresses currently tracked by the registry",
	},
)

var AddressesEvicted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "registry",
		Name:      "addresses_evicted_total",
		Help:      "Addresses removed by capacity eviction",
	},
)

// ============ Scanner ============

// ScanDuration - wall time of one full registry scan
var ScanDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "liqradar",
		Subsystem: "scanner",
		Name:      "full_scan_seconds",
		Help:      "Duration of a full registry scan in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
)

var ScanCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "scanner",
		Name:      "cycles_total",
		Help:      "Full scan cycles by result",
	},
	[]string{"result"},
)

var AccountFetches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "scanner",
		Name:      "account_fetches_total",
		Help:      "Account state fetches by result",
	},
	[]string{"result"},
)

var ImmediateScans = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "scanner",
		Name:      "immediate_scans_total",
		Help:      "Immediate scan requests by outcome",
	},
	[]string{"outcome"},
)

var TrackedPositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "liqradar",
		Subsystem: "scanner",
		Name:      "tracked_positions",
		Help:      "Positions in the tracked set by danger level",
	},
	[]string{"level"},
)

// ============ Alerts ============

var AlertsSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts handed to a notification sink",
	},
	[]string{"platform", "kind"},
)

var AlertsSuppressed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "alerts",
		Name:      "suppressed_total",
		Help:      "Alerts suppressed by the cooldown",
	},
	[]string{"platform"},
)

var LiquidationsDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "risk",
		Name:      "liquidations_detected_total",
		Help:      "Tracked positions whose liquidation price was crossed by a trade",
	},
	[]string{"coin"},
)

// ============ Store ============

var StoreWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "liqradar",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Whale store write-through results",
	},
	[]string{"result"},
)

var StreamConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "liqradar",
		Subsystem: "stream",
		Name:      "connected",
		Help:      "1 when the trade stream websocket is connected",
	},
)

// ============ Helpers ============

func RecordScanCycle(result string, seconds float64) {
	ScanCycles.WithLabelValues(result).Inc()
	if result == "ok" {
		ScanDuration.Observe(seconds)
	}
}

func RecordAlert(platform, kind string, sent bool) {
	if sent {
		AlertsSent.WithLabelValues(platform, kind).Inc()
		return
	}
	AlertsSuppressed.WithLabelValues(platform).Inc()
}

// UpdateTrackedPositions sets the per-level gauge from a fresh tracked set.
func UpdateTrackedPositions(positions []EvaluatedPosition) {
	counts := map[DangerLevel]int{LevelWatch: 0, LevelWarning: 0, LevelCritical: 0}
	for _, p := range positions {
		counts[p.DangerLevel]++
	}
	for level, n := range counts {
		TrackedPositions.WithLabelValues(level.String()).Set(float64(n))
	}
}

func UpdateStreamStatus(connected bool) {
	if connected {
		StreamConnected.Set(1)
	} else {
		StreamConnected.Set(0)
	}
}
