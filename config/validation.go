package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// DangerLevelNames lists the accepted alert levels in ascending severity.
var DangerLevelNames = []string{"WATCH", "WARNING", "CRITICAL"}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateHyperliquid(&c.Hyperliquid)...)
	errors = append(errors, validateStream(&c.Stream)...)
	errors = append(errors, validateRegistry(&c.Registry)...)
	errors = append(errors, validateScanner(&c.Scanner)...)
	errors = append(errors, validateRisk(&c.Risk)...)
	errors = append(errors, validateEnrichment(&c.Enrichment)...)
	errors = append(errors, validateAlerts(&c.Alerts)...)
	errors = append(errors, validateLeaderboard(&c.Leaderboard)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateHyperliquid(hl *HyperliquidConfig) []ValidationError {
	var errors []ValidationError

	for field, raw := range map[string]string{
		"hyperliquid.info_url":        hl.InfoURL,
		"hyperliquid.ws_url":          hl.WSURL,
		"hyperliquid.leaderboard_url": hl.LeaderboardURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must be an absolute URL",
			})
		}
	}

	if hl.RequestTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.request_timeout",
			Message: "must be at least 1 second",
		})
	}

	if hl.MaxRetries < 0 || hl.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.max_retries",
			Message: "must be between 0 and 10",
		})
	}

	if hl.RetryBaseDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "hyperliquid.retry_base_delay",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateStream(s *StreamConfig) []ValidationError {
	var errors []ValidationError

	if s.DiscoveryThresholdUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.discovery_threshold_usd",
			Message: "must be non-negative",
		})
	}

	if s.ImmediateCheckThresholdUSD < s.DiscoveryThresholdUSD {
		errors = append(errors, ValidationError{
			Field:   "stream.immediate_check_threshold_usd",
			Message: "must be at least discovery_threshold_usd",
		})
	}

	if s.LiquidationTradeUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.liquidation_trade_usd",
			Message: "must be non-negative",
		})
	}

	if s.IdleTimeout < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "stream.idle_timeout",
			Message: "must be at least 10 seconds",
		})
	}

	if s.ReconnectBaseDelay <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stream.reconnect_base_delay",
			Message: "must be positive",
		})
	}

	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		errors = append(errors, ValidationError{
			Field:   "stream.reconnect_max_delay",
			Message: "must be at least reconnect_base_delay",
		})
	}

	if s.PingInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "stream.ping_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateRegistry(r *RegistryConfig) []ValidationError {
	var errors []ValidationError

	if r.MaxAddresses < 1 {
		errors = append(errors, ValidationError{
			Field:   "registry.max_addresses",
			Message: "must be at least 1",
		})
	}

	if r.KeepFraction <= 0 || r.KeepFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "registry.keep_fraction",
			Message: "must be in (0, 1]",
		})
	}

	if r.RetentionWindow < 0 {
		errors = append(errors, ValidationError{
			Field:   "registry.retention_window",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateScanner(s *ScannerConfig) []ValidationError {
	var errors []ValidationError

	if s.RefreshInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "scanner.refresh_interval",
			Message: "must be at least 1 second",
		})
	}

	if s.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "scanner.batch_size",
			Message: "must be at least 1",
		})
	}

	if s.BatchDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "scanner.batch_delay",
			Message: "must be non-negative",
		})
	}

	if s.MaxConcurrency < 1 || s.MaxConcurrency > 20 {
		errors = append(errors, ValidationError{
			Field:   "scanner.max_concurrency",
			Message: "must be between 1 and 20",
		})
	}

	if s.ImmediateWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "scanner.immediate_workers",
			Message: "must be at least 1",
		})
	}

	if s.ImmediateQueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "scanner.immediate_queue_size",
			Message: "must be at least 1",
		})
	}

	if s.MarketRefreshInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "scanner.market_refresh_interval",
			Message: "must be at least 1 second",
		})
	}

	if s.MarketStaleAfter < s.MarketRefreshInterval {
		errors = append(errors, ValidationError{
			Field:   "scanner.market_stale_after",
			Message: "must be at least market_refresh_interval",
		})
	}

	return errors
}

func validateRisk(r *RiskConfig) []ValidationError {
	var errors []ValidationError

	if r.MinPositionUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.min_position_usd",
			Message: "must be non-negative",
		})
	}

	for field, v := range map[string]float64{
		"risk.max_distance":         r.MaxDistance,
		"risk.critical_distance":    r.CriticalDistance,
		"risk.warning_distance":     r.WarningDistance,
		"risk.relaxed_max_distance": r.RelaxedMaxDistance,
	} {
		if v <= 0 || v >= 1 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must be between 0 and 1 (exclusive)",
			})
		}
	}

	if r.CriticalDistance > r.WarningDistance {
		errors = append(errors, ValidationError{
			Field:   "risk.critical_distance",
			Message: fmt.Sprintf("must not exceed warning_distance (%.4f)", r.WarningDistance),
		})
	}

	if r.RelaxedMaxDistance < r.MaxDistance {
		errors = append(errors, ValidationError{
			Field:   "risk.relaxed_max_distance",
			Message: "must be at least max_distance",
		})
	}

	if r.VaultAttackMinNotional < r.MinPositionUSD {
		errors = append(errors, ValidationError{
			Field:   "risk.vault_attack_min_notional",
			Message: "must be at least min_position_usd",
		})
	}

	validLevel := false
	for _, name := range DangerLevelNames {
		if r.AlertMinLevel == name {
			validLevel = true
			break
		}
	}
	if !validLevel {
		errors = append(errors, ValidationError{
			Field:   "risk.alert_min_level",
			Message: "must be one of WATCH, WARNING, CRITICAL",
		})
	}

	if r.NewWalletDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.new_wallet_days",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateEnrichment(e *EnrichmentConfig) []ValidationError {
	var errors []ValidationError

	if e.PnlTTL < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "enrichment.pnl_ttl",
			Message: "must be at least 1 second",
		})
	}

	if e.WalletAgeTTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "enrichment.wallet_age_ttl",
			Message: "must be non-negative (0 = permanent)",
		})
	}

	return errors
}

func validateAlerts(a *AlertsConfig) []ValidationError {
	var errors []ValidationError

	if a.Cooldown < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "alerts.cooldown",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateLeaderboard(l *LeaderboardConfig) []ValidationError {
	var errors []ValidationError

	if !l.Enabled {
		return nil
	}

	if l.RefreshInterval < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "leaderboard.refresh_interval",
			Message: "must be at least 1 minute",
		})
	}

	if l.MinAccountValue < 0 {
		errors = append(errors, ValidationError{
			Field:   "leaderboard.min_account_value",
			Message: "must be non-negative",
		})
	}

	if l.MaxEntries < 1 {
		errors = append(errors, ValidationError{
			Field:   "leaderboard.max_entries",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	switch s.Driver {
	case "postgres", "pgx", "sqlite3":
	default:
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Message: "must be one of postgres, pgx, sqlite3",
		})
	}

	if s.LoadLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.load_limit",
			Message: "must be non-negative",
		})
	}

	if s.WriteQueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.write_queue_size",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}
