package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd   bool   `json:"is_prod"`
	LogLevel string `json:"log_level"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Venue endpoints
	Hyperliquid HyperliquidConfig `json:"hyperliquid"`

	// Trade stream discovery
	Stream StreamConfig `json:"stream"`

	// Address registry bounds
	Registry RegistryConfig `json:"registry"`

	// Position scanning
	Scanner ScannerConfig `json:"scanner"`

	// Risk classification
	Risk RiskConfig `json:"risk"`

	// Enrichment caches
	Enrichment EnrichmentConfig `json:"enrichment"`

	// Alert deduplication
	Alerts AlertsConfig `json:"alerts"`

	// Leaderboard import
	Leaderboard LeaderboardConfig `json:"leaderboard"`

	// Whale store - DSN excluded (env var only)
	Store StoreConfig `json:"store"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken    string `json:"-"` // Excluded - env var only
	ProdChatID  string `json:"prod_chat_id"`
	BetaChatID  string `json:"beta_chat_id"`
	APIEndpoint string `json:"api_endpoint"`
}

// HyperliquidConfig holds venue API configuration.
type HyperliquidConfig struct {
	InfoURL        string        `json:"info_url"`
	WSURL          string        `json:"ws_url"`
	LeaderboardURL string        `json:"leaderboard_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
}

// StreamConfig holds trade stream configuration.
type StreamConfig struct {
	DiscoveryThresholdUSD      float64       `json:"discovery_threshold_usd"`       // Register counterparties of trades at or above this notional
	ImmediateCheckThresholdUSD float64       `json:"immediate_check_threshold_usd"` // Trigger an out-of-band scan at or above this notional
	LiquidationTradeUSD        float64       `json:"liquidation_trade_usd"`         // Minimum notional for a crossed trade to count as a liquidation
	IdleTimeout                time.Duration `json:"idle_timeout"`                  // Force reconnect after this long without trades
	ReconnectBaseDelay         time.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay          time.Duration `json:"reconnect_max_delay"`
	PingInterval               time.Duration `json:"ping_interval"`
	Coins                      []string      `json:"coins"` // Explicit coin list (empty = every listed instrument)
}

// RegistryConfig holds address registry bounds.
type RegistryConfig struct {
	MaxAddresses    int           `json:"max_addresses"`
	KeepFraction    float64       `json:"keep_fraction"`    // Share of MaxAddresses kept by volume on eviction (e.g., 0.8)
	RetentionWindow time.Duration `json:"retention_window"` // Addresses seen within this window are never evicted
}

// ScannerConfig holds position scanning configuration.
type ScannerConfig struct {
	RefreshInterval       time.Duration `json:"refresh_interval"`
	BatchSize             int           `json:"batch_size"`
	BatchDelay            time.Duration `json:"batch_delay"`
	MaxConcurrency        int           `json:"max_concurrency"`
	ImmediateWorkers      int           `json:"immediate_workers"`
	ImmediateQueueSize    int           `json:"immediate_queue_size"`
	MarketRefreshInterval time.Duration `json:"market_refresh_interval"`
	MarketStaleAfter      time.Duration `json:"market_stale_after"`
}

// RiskConfig holds position risk classification thresholds.
type RiskConfig struct {
	MinPositionUSD         float64  `json:"min_position_usd"`          // Hard notional floor
	MaxDistance            float64  `json:"max_distance"`              // Max tracked distance to liquidation (0.10 = 10%)
	CriticalDistance       float64  `json:"critical_distance"`         // Inclusive CRITICAL bound
	WarningDistance        float64  `json:"warning_distance"`          // Inclusive WARNING bound
	RelaxedMaxDistance     float64  `json:"relaxed_max_distance"`      // Max distance for vault-attack style positions
	VaultAttackMinNotional float64  `json:"vault_attack_min_notional"` // Notional for a non-major position to be relaxed
	MajorCoins             []string `json:"major_coins"`
	AlertMinLevel          string   `json:"alert_min_level"` // WATCH, WARNING or CRITICAL
	NewWalletDays          int      `json:"new_wallet_days"`
}

// EnrichmentConfig holds enrichment cache TTLs.
type EnrichmentConfig struct {
	PnlTTL       time.Duration `json:"pnl_ttl"`
	WalletAgeTTL time.Duration `json:"wallet_age_ttl"` // 0 = permanent
}

// AlertsConfig holds alert deduplication configuration.
type AlertsConfig struct {
	Cooldown time.Duration `json:"cooldown"`
}

// LeaderboardConfig holds leaderboard import configuration.
type LeaderboardConfig struct {
	Enabled         bool          `json:"enabled"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	MinAccountValue float64       `json:"min_account_value"`
	MaxEntries      int           `json:"max_entries"`
}

// StoreConfig holds whale store configuration.
type StoreConfig struct {
	Driver         string `json:"driver"` // postgres, pgx or sqlite3
	DSN            string `json:"-"`      // Excluded - env var only
	LoadLimit      int    `json:"load_limit"`
	WriteQueueSize int    `json:"write_queue_size"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Stream.Coins != nil {
		clone.Stream.Coins = make([]string, len(c.Stream.Coins))
		copy(clone.Stream.Coins, c.Stream.Coins)
	}
	if c.Risk.MajorCoins != nil {
		clone.Risk.MajorCoins = make([]string, len(c.Risk.MajorCoins))
		copy(clone.Risk.MajorCoins, c.Risk.MajorCoins)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		LogLevel: "info",
		Hyperliquid: HyperliquidConfig{
			InfoURL:        "https://api.hyperliquid.xyz/info",
			WSURL:          "wss://api.hyperliquid.xyz/ws",
			LeaderboardURL: "https://stats-data.hyperliquid.xyz/Mainnet/leaderboard",
			RequestTimeout: 10 * time.Second,
			MaxRetries:     2,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Stream: StreamConfig{
			DiscoveryThresholdUSD:      100_000,
			ImmediateCheckThresholdUSD: 500_000,
			LiquidationTradeUSD:        50_000,
			IdleTimeout:                2 * time.Minute,
			ReconnectBaseDelay:         1 * time.Second,
			ReconnectMaxDelay:          60 * time.Second,
			PingInterval:               30 * time.Second,
		},
		Registry: RegistryConfig{
			MaxAddresses:    5000,
			KeepFraction:    0.8,
			RetentionWindow: 24 * time.Hour,
		},
		Scanner: ScannerConfig{
			RefreshInterval:       30 * time.Second,
			BatchSize:             10,
			BatchDelay:            500 * time.Millisecond,
			MaxConcurrency:        10,
			ImmediateWorkers:      4,
			ImmediateQueueSize:    256,
			MarketRefreshInterval: 15 * time.Second,
			MarketStaleAfter:      45 * time.Second,
		},
		Risk: RiskConfig{
			MinPositionUSD:         2_000_000,
			MaxDistance:            0.10,
			CriticalDistance:       0.05,
			WarningDistance:        0.10,
			RelaxedMaxDistance:     0.15,
			VaultAttackMinNotional: 5_000_000,
			MajorCoins:             []string{"BTC", "ETH", "SOL"},
			AlertMinLevel:          "WARNING",
			NewWalletDays:          7,
		},
		Enrichment: EnrichmentConfig{
			PnlTTL:       5 * time.Minute,
			WalletAgeTTL: 0,
		},
		Alerts: AlertsConfig{
			Cooldown: 30 * time.Minute,
		},
		Leaderboard: LeaderboardConfig{
			Enabled:         true,
			RefreshInterval: 1 * time.Hour,
			MinAccountValue: 1_000_000,
			MaxEntries:      500,
		},
		Store: StoreConfig{
			Driver:         "sqlite3",
			LoadLimit:      2000,
			WriteQueueSize: 1024,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is read first if present; real
// environment variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	d := Defaults()
	return &Config{
		IsProd:   envBool("STAGE", "PROD"),
		LogLevel: envString("LOG_LEVEL", d.LogLevel),

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:    envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID:  envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID:  envString("TELEGRAM_BETA_CHAT_ID", ""),
			APIEndpoint: envString("TELEGRAM_API_ENDPOINT", ""),
		},

		Hyperliquid: HyperliquidConfig{
			InfoURL:        envString("HL_INFO_URL", d.Hyperliquid.InfoURL),
			WSURL:          envString("HL_WS_URL", d.Hyperliquid.WSURL),
			LeaderboardURL: envString("HL_LEADERBOARD_URL", d.Hyperliquid.LeaderboardURL),
			RequestTimeout: envDuration("HL_REQUEST_TIMEOUT", d.Hyperliquid.RequestTimeout),
			MaxRetries:     envInt("HL_MAX_RETRIES", d.Hyperliquid.MaxRetries),
			RetryBaseDelay: envDuration("HL_RETRY_BASE_DELAY", d.Hyperliquid.RetryBaseDelay),
		},

		Stream: StreamConfig{
			DiscoveryThresholdUSD:      envFloat("DISCOVERY_THRESHOLD_USD", d.Stream.DiscoveryThresholdUSD),
			ImmediateCheckThresholdUSD: envFloat("IMMEDIATE_CHECK_THRESHOLD_USD", d.Stream.ImmediateCheckThresholdUSD),
			LiquidationTradeUSD:        envFloat("LIQUIDATION_TRADE_USD", d.Stream.LiquidationTradeUSD),
			IdleTimeout:                envDuration("STREAM_IDLE_TIMEOUT", d.Stream.IdleTimeout),
			ReconnectBaseDelay:         envDuration("STREAM_RECONNECT_BASE_DELAY", d.Stream.ReconnectBaseDelay),
			ReconnectMaxDelay:          envDuration("STREAM_RECONNECT_MAX_DELAY", d.Stream.ReconnectMaxDelay),
			PingInterval:               envDuration("STREAM_PING_INTERVAL", d.Stream.PingInterval),
			Coins:                      normalizeCoins(envStringSlice("STREAM_COINS")),
		},

		Registry: RegistryConfig{
			MaxAddresses:    envInt("MAX_ADDRESSES", d.Registry.MaxAddresses),
			KeepFraction:    envFloat("REGISTRY_KEEP_FRACTION", d.Registry.KeepFraction),
			RetentionWindow: envDuration("REGISTRY_RETENTION_WINDOW", d.Registry.RetentionWindow),
		},

		Scanner: ScannerConfig{
			RefreshInterval:       envDuration("REFRESH_INTERVAL", d.Scanner.RefreshInterval),
			BatchSize:             envInt("SCAN_BATCH_SIZE", d.Scanner.BatchSize),
			BatchDelay:            envDuration("SCAN_BATCH_DELAY", d.Scanner.BatchDelay),
			MaxConcurrency:        envInt("SCAN_MAX_CONCURRENCY", d.Scanner.MaxConcurrency),
			ImmediateWorkers:      envInt("IMMEDIATE_WORKERS", d.Scanner.ImmediateWorkers),
			ImmediateQueueSize:    envInt("IMMEDIATE_QUEUE_SIZE", d.Scanner.ImmediateQueueSize),
			MarketRefreshInterval: envDuration("MARKET_REFRESH_INTERVAL", d.Scanner.MarketRefreshInterval),
			MarketStaleAfter:      envDuration("MARKET_STALE_AFTER", d.Scanner.MarketStaleAfter),
		},

		Risk: RiskConfig{
			MinPositionUSD:         envFloat("MIN_POSITION_USD", d.Risk.MinPositionUSD),
			MaxDistance:            envFloat("MAX_DISTANCE", d.Risk.MaxDistance),
			CriticalDistance:       envFloat("CRITICAL_DISTANCE", d.Risk.CriticalDistance),
			WarningDistance:        envFloat("WARNING_DISTANCE", d.Risk.WarningDistance),
			RelaxedMaxDistance:     envFloat("RELAXED_MAX_DISTANCE", d.Risk.RelaxedMaxDistance),
			VaultAttackMinNotional: envFloat("VAULT_ATTACK_MIN_NOTIONAL", d.Risk.VaultAttackMinNotional),
			MajorCoins:             normalizeCoins(envStringSliceDefault("MAJOR_COINS", d.Risk.MajorCoins)),
			AlertMinLevel:          strings.ToUpper(envString("ALERT_MIN_LEVEL", d.Risk.AlertMinLevel)),
			NewWalletDays:          envInt("NEW_WALLET_DAYS", d.Risk.NewWalletDays),
		},

		Enrichment: EnrichmentConfig{
			PnlTTL:       envDuration("ENRICHMENT_PNL_TTL", d.Enrichment.PnlTTL),
			WalletAgeTTL: envDuration("ENRICHMENT_WALLET_AGE_TTL", d.Enrichment.WalletAgeTTL),
		},

		Alerts: AlertsConfig{
			Cooldown: envDuration("ALERT_COOLDOWN", d.Alerts.Cooldown),
		},

		Leaderboard: LeaderboardConfig{
			Enabled:         envBoolDefault("LEADERBOARD_ENABLED", d.Leaderboard.Enabled),
			RefreshInterval: envDuration("LEADERBOARD_REFRESH_INTERVAL", d.Leaderboard.RefreshInterval),
			MinAccountValue: envFloat("LEADERBOARD_MIN_ACCOUNT_VALUE", d.Leaderboard.MinAccountValue),
			MaxEntries:      envInt("LEADERBOARD_MAX_ENTRIES", d.Leaderboard.MaxEntries),
		},

		Store: StoreConfig{
			Driver:         envString("STORE_DRIVER", d.Store.Driver),
			DSN:            envString("STORE_DSN", ""),
			LoadLimit:      envInt("STORE_LOAD_LIMIT", d.Store.LoadLimit),
			WriteQueueSize: envInt("STORE_WRITE_QUEUE_SIZE", d.Store.WriteQueueSize),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", d.HealthServer.Enabled),
			Port:    envInt("HEALTH_SERVER_PORT", d.HealthServer.Port),
		},
	}
}

// Reload re-reads the .env file, overriding previously loaded values, and
// returns a freshly loaded config.
func Reload() *Config {
	_ = godotenv.Overload()
	return Load()
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	if v := envStringSlice(key); v != nil {
		return v
	}
	return defaultVal
}

func normalizeCoins(coins []string) []string {
	if coins == nil {
		return nil
	}
	result := make([]string, len(coins))
	for i, c := range coins {
		result[i] = strings.ToUpper(c)
	}
	return result
}
