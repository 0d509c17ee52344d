package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clts "liqradar/clients"
	"liqradar/config"
	"liqradar/internal/app"

	"go.uber.org/zap"
)

func main() {
	// Load config from environment variables (and .env if present)
	envConfig := config.Load()

	logger, err := newLogger(envConfig.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("config validation failed", zap.Int("errors", len(result.Errors)))
	}
	logger.Info("starting liqradar", zap.Bool("isProd", envConfig.IsProd))

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer func() {
		if err := clients.Close(); err != nil {
			logger.Warn("failed to close clients", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// SIGHUP re-reads .env and the environment and hot-applies thresholds
	go watchReload(ctx, logger, liveConfig)

	runner := app.NewRunner(clients, liveConfig)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func watchReload(ctx context.Context, logger *zap.Logger, liveConfig *config.LiveConfig) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := liveConfig.Reload(config.Reload); err != nil {
				logger.Warn("config reload rejected", zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.Int("reloads", liveConfig.Reloads()))
		}
	}
}
