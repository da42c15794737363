package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"shipment-dispatch-client/app"
	"shipment-dispatch-client/broadcast"
	"shipment-dispatch-client/config"
	"shipment-dispatch-client/core"
	"shipment-dispatch-client/session"
	"shipment-dispatch-client/store"
	"shipment-dispatch-client/workers/shipments/classifier"
	"shipment-dispatch-client/workers/shipments/models"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := core.NewLogger(*cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	stateStore, err := store.Open(cfg.StateDSN)
	if err != nil {
		logger.Fatal("Failed to open state store", zap.Error(err))
	}
	defer stateStore.Close()

	bus, closeBus := newBus(ctx, cfg, logger)
	defer closeBus()

	tab, err := app.NewTab(ctx, app.Options{
		BaseURI: cfg.APIBaseURI,
		Store:   stateStore,
		Bus:     bus,
		Logger:  logger,
		Timings: cfg.Timings,
	})
	if err != nil {
		logger.Fatal("Failed to open tab", zap.Error(err))
	}

	restored, err := tab.Session.Restore(ctx)
	if err != nil {
		logger.Fatal("Failed to restore session", zap.Error(err))
	}
	if !restored {
		if err := tab.Session.Login(ctx, cfg.Username, cfg.Password); err != nil {
			logger.Fatal("Login failed", zap.Error(err))
		}
	}

	tab.Poller.OnUpdate(func([]models.Shipment) {
		counts := tab.Counts()
		logger.Info("Shipments refreshed",
			zap.Int("active", counts[classifier.BucketActive]),
			zap.Int("upcoming", counts[classifier.BucketUpcoming]),
			zap.Int("delayed", counts[classifier.BucketDelayed]),
			zap.Int("completed", counts[classifier.BucketCompleted]),
		)
	})

	if err := tab.Mount(ctx); err != nil {
		logger.Fatal("Failed to mount tab", zap.Error(err))
	}

	// Wait for termination signal to exit gracefully
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := tab.Unmount(); err != nil {
		logger.Error("Unmount failed", zap.Error(err))
	}
	if tab.Session.State() == session.SignedIn {
		logger.Info("Leaving session in place for the next start")
	}
}

func newBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (broadcast.Bus, func()) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return broadcast.NewLocalBus(), func() {}
	}

	client, err := broadcast.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		logger.Fatal("Failed to connect redis", zap.Error(err))
	}
	return broadcast.NewRedisBus(client, logger), func() {
		if err := client.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}
}
