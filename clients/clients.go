package clients

import (
	"context"
	"errors"
	"time"

	"liqradar/clients/discord"
	"liqradar/clients/hyperliquid"
	"liqradar/clients/hyperliquidws"
	"liqradar/clients/notifier"
	"liqradar/clients/store"
	"liqradar/clients/telegram"
	"liqradar/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord     *discord.DiscordClient
	Telegram    *telegram.TelegramClient
	Notifier    *notifier.MultiNotifier // Combined notifier for all enabled channels
	Hyperliquid *hyperliquid.Client
	Stream      *hyperliquidws.StreamClient
	Store       *store.WhaleStore // nil when no DSN is configured
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	log := logger
	if log == nil {
		log = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	hl := hyperliquid.NewClient(logger, cfg)

	c := &Clients{
		Logger:      logger,
		Discord:     discordClient,
		Telegram:    telegramClient,
		Notifier:    notifier.NewMultiNotifier(discordClient, telegramClient),
		Hyperliquid: hl,
		Stream:      hyperliquidws.NewStreamClient(logger, cfg, hl),
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ws, err := store.Open(openCtx, logger, cfg.Store)
	switch {
	case errors.Is(err, store.ErrDisabled):
		log.Info("STORE_DSN not set, whale persistence disabled")
	case err != nil:
		log.Error("failed to open whale store, persistence disabled", zap.Error(err))
	default:
		c.Store = ws
	}

	return c
}

// Close releases the store, websocket and notifier resources.
func (c *Clients) Close() error {
	var errs []error
	if c.Stream != nil {
		errs = append(errs, c.Stream.Close())
	}
	if c.Notifier != nil {
		errs = append(errs, c.Notifier.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
