package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/cache"
	"github.com/npezzotti/go-chatrelay/internal/codec"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/notify"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

var envFile string

func main() {
	flag.StringVar(&envFile, "env-file", "", "optional dotenv file loaded before reading the environment")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.RoomStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			logger.Info("applying migrations")
			if err := database.Migrate(cfg.DatabaseDSN); err != nil {
				return nil, err
			}
		}
		return database.NewPgRoomStore(cfg.DatabaseDSN)
	case config.DriverMongo:
		return database.NewMongoRoomStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case config.DriverBadger:
		if cfg.BadgerPath == "" {
			logger.Warn("badger path not set, rooms will not survive a restart")
		}
		return database.NewBadgerRoomStore(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newCodec(cfg *config.Config, logger *slog.Logger) (codec.MessageCodec, error) {
	if cfg.CodecKey == nil {
		logger.Warn("codec secret not set, message content is stored unsealed")
		return codec.Identity{}, nil
	}
	return codec.NewSealCodec(cfg.CodecKey)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()
	logger.Info("store ready", "driver", cfg.StoreDriver)

	msgCodec, err := newCodec(cfg, logger)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}

	var bridge notify.Bridge = notify.NewLogBridge(logger)
	if cfg.RedisURL != "" {
		rb, err := notify.NewRedisBridge(startCtx, cfg.RedisURL, cfg.NotifyChannelPrefix, logger)
		if err != nil {
			return fmt.Errorf("notification bridge: %w", err)
		}
		defer rb.Close()
		bridge = rb
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	// Runs after the chat server and cache sweeper shut down; the store and
	// notification bridge close after it.
	defer statsUpdater.Stop()

	roomCache := cache.NewRoomCache(logger, cfg.CacheIdleTTL)
	stopSweep := make(chan struct{})
	if cfg.CacheIdleTTL > 0 {
		go roomCache.Run(cfg.CacheSweepInterval, stopSweep)
	}
	defer close(stopSweep)

	chatServer, err := server.NewChatServer(logger, statsUpdater)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	engine, err := session.NewEngine(session.Options{
		Cache:        roomCache,
		Store:        store,
		Codec:        msgCodec,
		Notifier:     bridge,
		Fanout:       chatServer,
		Stats:        statsUpdater,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, engine, store, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server", "error", err)
	}

	shutDownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
