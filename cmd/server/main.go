package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secret.once/config"
	"secret.once/internal/api"
	"secret.once/internal/coordinator"
	"secret.once/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	st := initStore(cfg, logger)
	defer st.Close()

	coord := coordinator.New(st, st.(store.ViewTracker), logger)

	if cfg.Janitor.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go coord.RunJanitor(ctx, cfg.Janitor.Interval)
	}

	router := api.SetupRouter(coord, st, cfg, logger)

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("store", cfg.Store.Type))

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func initStore(cfg *config.Config, logger *zap.Logger) store.Store {
	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, cfg.Store.Retention)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		return st
	default:
		return store.NewMemoryStore()
	}
}
