package app

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	clts "liqradar/clients"
	"liqradar/clients/notifier"
	"liqradar/config"

	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

const (
	maintenanceInterval = time.Minute
	storeImportTimeout  = 30 * time.Second
	leaderboardTimeout  = 30 * time.Second
)

// Deps are the external collaborators the pipeline runs against.
type Deps struct {
	Logger      *zap.Logger
	Market      MarketDataSource
	Positions   PositionSource
	Enrichment  EnrichmentSource
	Leaderboard LeaderboardSource
	Stream      TradeStream
	Store       WhaleStore // nil disables persistence
	Notifiers   []notifier.Notifier
}

// DepsFromClients wires the concrete venue, stream, store and notifier
// clients into Deps.
func DepsFromClients(c *clts.Clients) Deps {
	d := Deps{
		Logger:      c.Logger,
		Market:      c.Hyperliquid,
		Positions:   c.Hyperliquid,
		Enrichment:  c.Hyperliquid,
		Leaderboard: c.Hyperliquid,
		Stream:      c.Stream,
	}
	if c.Store != nil {
		d.Store = c.Store
	}
	if c.Notifier != nil {
		d.Notifiers = c.Notifier.Notifiers()
	}
	return d
}

type Runner struct {
	logger     *zap.Logger
	deps       Deps
	liveConfig *config.LiveConfig

	cache      *MarketCache
	registry   *Registry
	enrichment *EnrichmentCache
	dedup      *Deduplicator
	alerter    *Alerter
	scanner    *Scanner
	listener   *TradeListener
	writer     *StoreWriter

	healthServer *http.Server
	startTime    time.Time

	leaderboardImported uint64
	leaderboardAt       atomic.Int64
}

// Snapshot is the read-only view handed to the dashboard layer.
type Snapshot struct {
	TrackedPositions []EvaluatedPosition `json:"tracked_positions"`
	Stats            ServiceStats        `json:"stats"`
	RegistrySize     int                 `json:"registry_size"`
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// Trade stream
	Stream struct {
		Enabled        bool   `json:"enabled"`
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		TradeCount     uint64 `json:"trade_count"`
		Malformed      uint64 `json:"malformed"`
		Dropped        uint64 `json:"dropped"`
		Reconnects     uint64 `json:"reconnects"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"stream"`

	Listener ListenerStats `json:"listener"`

	// Mark prices
	Market struct {
		Coins     int    `json:"coins"`
		UpdatedAt string `json:"updated_at,omitempty"`
		Stale     bool   `json:"stale"`
	} `json:"market"`

	Registry struct {
		Size    int    `json:"size"`
		Evicted uint64 `json:"evicted"`
	} `json:"registry"`

	Scanner ScannerStats `json:"scanner"`

	Alerts struct {
		AlertStats
		Cooldown        string `json:"cooldown"`
		CooldownEntries int    `json:"cooldown_entries"`
	} `json:"alerts"`

	// Recent alerts feed
	RecentAlerts []RecentAlertInfo `json:"recent_alerts"`

	Enrichment EnrichmentStats  `json:"enrichment"`
	Store      StoreWriterStats `json:"store"`

	Leaderboard struct {
		Enabled       bool   `json:"enabled"`
		Imported      uint64 `json:"imported"`
		LastRefreshAt string `json:"last_refresh_at,omitempty"`
	} `json:"leaderboard"`

	// Notification status
	Notifications struct {
		Platforms        []string `json:"platforms"`
		DiscordChannelID string   `json:"discord_channel_id,omitempty"`
		TelegramChatID   string   `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	Config struct {
		Reloads     int    `json:"reloads"`
		LastUpdated string `json:"last_updated"`
	} `json:"config"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		HeapInuse  uint64 `json:"heap_inuse"` // bytes in in-use spans
		NumGC      uint32 `json:"num_gc"`     // number of completed GC cycles
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig) *Runner {
	return newRunner(DepsFromClients(clients), liveConfig)
}

func newRunner(deps Deps, liveConfig *config.LiveConfig) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := liveConfig.Get()

	r := &Runner{
		logger:     logger,
		deps:       deps,
		liveConfig: liveConfig,
		startTime:  time.Now(),
	}

	r.cache = NewMarketCache()
	r.registry = NewRegistry(logger, cfg.Registry)
	r.enrichment = NewEnrichmentCache(logger, deps.Enrichment, cfg.Enrichment, cfg.Risk.NewWalletDays)
	r.dedup = NewDeduplicator(cfg.Alerts.Cooldown)
	r.alerter = NewAlerter(logger, r.dedup, deps.Notifiers...)
	r.scanner = NewScanner(logger, deps.Positions, deps.Market, r.cache, r.registry, r.enrichment, r.alerter, cfg)
	r.writer = NewStoreWriter(logger, deps.Store, cfg.Store.WriteQueueSize)
	r.listener = NewTradeListener(logger, deps.Stream, r.cache, r.registry, r.scanner, r.alerter, r.writer, cfg.Stream)

	return r
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received, propagating to components")

	r.registry.UpdateLimits(cfg.Registry)
	r.scanner.UpdateConfig(cfg)
	r.listener.UpdateThresholds(cfg.Stream)
	r.enrichment.UpdateSettings(cfg.Enrichment, cfg.Risk.NewWalletDays)
	r.dedup.SetCooldown(cfg.Alerts.Cooldown)
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	r.logger.Info("starting liquidation radar",
		zap.Float64("discoveryThresholdUSD", cfg.Stream.DiscoveryThresholdUSD),
		zap.Float64("immediateCheckThresholdUSD", cfg.Stream.ImmediateCheckThresholdUSD),
		zap.Float64("minPositionUSD", cfg.Risk.MinPositionUSD),
		zap.Duration("refreshInterval", cfg.Scanner.RefreshInterval),
		zap.Duration("cooldown", cfg.Alerts.Cooldown),
		zap.Strings("platforms", r.alerter.Platforms()),
	)

	if r.writer != nil {
		loadCtx, cancel := context.WithTimeout(ctx, storeImportTimeout)
		imported, err := r.writer.ImportInto(loadCtx, r.registry, cfg.Store.LoadLimit, time.Now())
		cancel()
		if err != nil {
			r.logger.Warn("failed to load addresses from whale store", zap.Error(err))
		} else {
			AddressesDiscovered.WithLabelValues(string(SourceStore)).Add(float64(imported))
			r.logger.Info("restored addresses from whale store", zap.Int("addresses", imported))
		}
	}

	if err := r.refreshMarkets(ctx); err != nil {
		r.logger.Warn("initial mark price fetch failed", zap.Error(err))
	}

	if cfg.Leaderboard.Enabled && r.deps.Leaderboard != nil {
		if _, err := r.importLeaderboard(ctx); err != nil {
			r.logger.Warn("initial leaderboard import failed", zap.Error(err))
		}
	}

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		r.logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	var wg sync.WaitGroup
	if r.deps.Stream != nil {
		r.spawn(&wg, "stream", func() {
			if err := r.deps.Stream.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("trade stream stopped", zap.Error(err))
			}
		})
		r.spawn(&wg, "listener", func() { r.listener.Run(ctx) })
	}
	r.spawn(&wg, "scanner", func() { r.scanner.Run(ctx) })
	r.spawn(&wg, "immediate-workers", func() { r.scanner.RunImmediateWorkers(ctx) })
	r.spawn(&wg, "market-refresher", func() { r.runMarketRefresher(ctx) })
	if cfg.Leaderboard.Enabled && r.deps.Leaderboard != nil {
		r.spawn(&wg, "leaderboard-refresher", func() { r.runLeaderboardRefresher(ctx) })
	}
	if r.writer != nil {
		r.spawn(&wg, "store-writer", func() { r.writer.Run(ctx) })
	}
	r.spawn(&wg, "maintenance", func() { r.runMaintenance(ctx) })

	<-ctx.Done()
	r.logger.Info("runner shutting down")

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	wg.Wait()
	r.alerter.Wait()
	return nil
}

func (r *Runner) spawn(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
		r.logger.Debug("task stopped", zap.String("task", name))
	}()
}

// refreshMarkets replaces the mark price snapshot from the venue.
func (r *Runner) refreshMarkets(ctx context.Context) error {
	prices, err := r.deps.Market.GetAllMarkPrices(ctx)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return ErrNoMarkPrices
	}
	r.cache.Replace(prices)
	return nil
}

// runMarketRefresher periodically polls mark prices.
func (r *Runner) runMarketRefresher(ctx context.Context) {
	interval := r.liveConfig.Get().Scanner.MarketRefreshInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refreshMarkets(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("failed to refresh mark prices", zap.Error(err))
			}
		}
	}
}

// importLeaderboard registers the highest-value leaderboard accounts.
func (r *Runner) importLeaderboard(ctx context.Context) (int, error) {
	cfg := r.liveConfig.Get().Leaderboard

	fetchCtx, cancel := context.WithTimeout(ctx, leaderboardTimeout)
	defer cancel()

	entries, err := r.deps.Leaderboard.GetLeaderboard(fetchCtx)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AccountValue > entries[j].AccountValue
	})

	now := time.Now()
	imported, considered := 0, 0
	for _, e := range entries {
		if cfg.MaxEntries > 0 && considered >= cfg.MaxEntries {
			break
		}
		if e.AccountValue < cfg.MinAccountValue {
			continue
		}
		addr, err := normalizeAddress(e.Address)
		if err != nil {
			continue
		}
		considered++
		r.enrichment.SeedAllTimePnl(addr, e.AllTimePnl)
		if r.registry.Register(addr, 0, SourceLeaderboard, now) {
			imported++
		}
	}

	if n := r.registry.EvictIfOverCapacity(now); n > 0 {
		AddressesEvicted.Add(float64(n))
	}
	AddressesDiscovered.WithLabelValues(string(SourceLeaderboard)).Add(float64(imported))
	RegistrySize.Set(float64(r.registry.Len()))
	atomic.AddUint64(&r.leaderboardImported, uint64(imported))
	r.leaderboardAt.Store(now.UnixNano())

	r.logger.Info("leaderboard imported",
		zap.Int("entries", len(entries)),
		zap.Int("considered", considered),
		zap.Int("new", imported),
		zap.Int("registrySize", r.registry.Len()),
	)
	return imported, nil
}

func (r *Runner) runLeaderboardRefresher(ctx context.Context) {
	interval := r.liveConfig.Get().Leaderboard.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.importLeaderboard(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("failed to refresh leaderboard", zap.Error(err))
			}
		}
	}
}

// runMaintenance prunes cooldowns and caches and keeps gauges current.
func (r *Runner) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.maintain(time.Now())
		}
	}
}

func (r *Runner) maintain(now time.Time) {
	cooldowns := r.dedup.Prune(now)
	enrichments := r.enrichment.Prune(now)
	evicted := r.registry.EvictIfOverCapacity(now)
	if evicted > 0 {
		AddressesEvicted.Add(float64(evicted))
	}
	RegistrySize.Set(float64(r.registry.Len()))
	if r.deps.Stream != nil {
		UpdateStreamStatus(r.deps.Stream.Stats().Connected)
	}

	r.logger.Debug("maintenance pass",
		zap.Int("cooldownsPruned", cooldowns),
		zap.Int("enrichmentPruned", enrichments),
		zap.Int("evicted", evicted),
	)
}

// AddAddressManually registers address and queues an immediate scan of it.
func (r *Runner) AddAddressManually(address string) error {
	addr, err := normalizeAddress(address)
	if err != nil {
		return err
	}

	if r.registry.Register(addr, 0, SourceManual, time.Now()) {
		AddressesDiscovered.WithLabelValues(string(SourceManual)).Inc()
	}
	// A full queue is not an error here: the address is registered and the
	// next periodic scan covers it.
	queued := r.scanner.RequestImmediate(addr, "", nil)

	r.logger.Info("address added manually",
		zap.String("address", shortID(addr)),
		zap.Bool("scanQueued", queued),
	)
	return nil
}

// Snapshot returns the tracked positions and service statistics.
func (r *Runner) Snapshot() Snapshot {
	return Snapshot{
		TrackedPositions: r.scanner.Tracked(),
		Stats:            r.GetStats(),
		RegistrySize:     r.registry.Len(),
	}
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats
	cfg := r.liveConfig.Get()
	now := time.Now()

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := now.Sub(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	// Stream stats
	stats.Stream.Enabled = r.deps.Stream != nil
	if r.deps.Stream != nil {
		ss := r.deps.Stream.Stats()
		stats.Stream.Connected = ss.Connected
		stats.Stream.MessageCount = ss.MessageCount
		stats.Stream.TradeCount = ss.TradeCount
		stats.Stream.Malformed = ss.Malformed
		stats.Stream.Dropped = ss.Dropped
		stats.Stream.Reconnects = ss.Reconnects
		if !ss.LastMessageAt.IsZero() {
			stats.Stream.LastMessageAt = ss.LastMessageAt.UTC().Format(time.RFC3339)
			stats.Stream.LastMessageAgo = now.Sub(ss.LastMessageAt).Round(time.Second).String()
		}
	}
	stats.Listener = r.listener.Stats()

	// Market stats
	stats.Market.Coins = r.cache.Len()
	if updated := r.cache.UpdatedAt(); !updated.IsZero() {
		stats.Market.UpdatedAt = updated.UTC().Format(time.RFC3339)
	}
	stats.Market.Stale = r.cache.IsStale(cfg.Scanner.MarketStaleAfter)

	stats.Registry.Size = r.registry.Len()
	stats.Registry.Evicted = r.registry.Evicted()

	stats.Scanner = r.scanner.Stats()

	stats.Alerts.AlertStats = r.alerter.Stats()
	stats.Alerts.Cooldown = r.dedup.Cooldown().String()
	stats.Alerts.CooldownEntries = r.dedup.Len()
	stats.RecentAlerts = r.alerter.RecentAlerts()

	stats.Enrichment = r.enrichment.Stats()
	stats.Store = r.writer.Stats()

	stats.Leaderboard.Enabled = cfg.Leaderboard.Enabled
	stats.Leaderboard.Imported = atomic.LoadUint64(&r.leaderboardImported)
	if ns := r.leaderboardAt.Load(); ns > 0 {
		stats.Leaderboard.LastRefreshAt = time.Unix(0, ns).UTC().Format(time.RFC3339)
	}

	// Notification status
	stats.Notifications.Platforms = r.alerter.Platforms()
	if cfg.IsProd {
		stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
		stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
	} else {
		stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
		stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
	}

	stats.Config.Reloads = r.liveConfig.Reloads()
	stats.Config.LastUpdated = r.liveConfig.LastUpdated().UTC().Format(time.RFC3339)

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.NumGC = memStats.NumGC
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}
