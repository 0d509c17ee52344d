package config

import (
	"sync"
	"time"
)

// ConfigObserver is an interface for components that need to be notified of config changes.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe wrapper around Config that supports hot-reload.
// Only the tunable sections (thresholds, cooldown, intervals) are expected to
// change at runtime; credentials and endpoints are read once at startup.
type LiveConfig struct {
	mu        sync.RWMutex
	config    *Config
	observers []ConfigObserver
	obsMu     sync.RWMutex

	lastUpdated time.Time
	reloads     int
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update validates and swaps in a new config, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.reloads++
	lc.mu.Unlock()

	// Outside the lock so observers may call Get.
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and stores it.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	lc.mu.RLock()
	newConfig := lc.config.Clone()
	lc.mu.RUnlock()

	updateFn(newConfig)

	return lc.Update(newConfig)
}

// Reload loads a fresh config with load and applies it. The startup-only
// fields (tokens, endpoints, store DSN) are carried over from the current
// config so a reload can never swap credentials under running clients.
func (lc *LiveConfig) Reload(load func() *Config) error {
	fresh := load()
	if fresh == nil {
		return nil
	}

	lc.mu.RLock()
	cur := lc.config
	fresh.Discord = cur.Discord
	fresh.Telegram = cur.Telegram
	fresh.Hyperliquid = cur.Hyperliquid
	fresh.Store = cur.Store
	fresh.HealthServer = cur.HealthServer
	lc.mu.RUnlock()

	return lc.Update(fresh)
}

// AddObserver registers an observer to be notified of config changes.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// Reloads returns how many successful updates have been applied.
func (lc *LiveConfig) Reloads() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.reloads
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
