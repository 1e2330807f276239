package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/api"
	"github.com/libevm/shlop-app-sub002/internal/clock"
	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/game"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/logging"
	"github.com/libevm/shlop-app-sub002/internal/metrics"
	"github.com/libevm/shlop-app-sub002/internal/persist"
	"github.com/libevm/shlop-app-sub002/internal/session"
	"github.com/libevm/shlop-app-sub002/internal/world"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file from parent directory, then the current one
	envFile := ""
	if err := godotenv.Load("../.env"); err == nil {
		envFile = "../.env"
	} else if err := godotenv.Load(".env"); err == nil {
		envFile = ".env"
	}

	printBanner()

	cfg := config.Load()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if envFile != "" {
		logger.Info("loaded environment", zap.String("file", envFile))
	} else {
		logger.Info("no .env file found, using environment variables only")
	}

	catalog, err := world.LoadFile(cfg.Storage.WorldDataPath)
	if err != nil {
		return err
	}
	logger.Info("world data loaded", zap.String("path", cfg.Storage.WorldDataPath))

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	saver := persist.NewAsyncSaver(store, cfg.Storage.OperationTimeout, logger)
	saver.OnResult = func(_ string, err error) { metrics.SaveResult(err) }

	audit := journal.New(journal.DefaultOptions(), logger.Named("journal"))
	if err := audit.Start(cfg.Storage.JournalPath); err != nil {
		logger.Warn("journal file disabled", zap.String("path", cfg.Storage.JournalPath), zap.Error(err))
		audit.StartWriter(nil)
	} else if cfg.Storage.JournalPath != "" {
		logger.Info("journal enabled", zap.String("path", cfg.Storage.JournalPath))
	}

	dispatcher := game.NewDispatcher(cfg, game.Deps{
		Maps:     catalog,
		NPCs:     catalog,
		Loot:     world.NewTableRoller(catalog.Loot(), time.Now().UnixNano()),
		Reactors: catalog,
		Saver:    saver,
		Journal:  audit,
		Logger:   logger.Named("game"),
	})

	tokens := session.NewTokenStore(cfg.Session.TokenTTL, clock.Real{})
	auth := session.NewAuthenticator(tokens, saver, cfg.Storage.OperationTimeout, logger.Named("auth"))

	hub := api.NewHub(api.HubConfigFrom(cfg), auth, audit, logger.Named("ws"))
	loop := game.NewLoop(dispatcher, hub, cfg.Sweep, cfg.Limits.LoopQueue, logger.Named("loop"))
	hub.Bind(loop)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	server := api.NewServer(cfg, hub, loop, tokens, logger.Named("api"))
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Start() }()

	logger.Info("server ready",
		zap.Int("port", cfg.Server.Port),
		zap.String("start_map", cfg.Session.StartMap),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("duplicate_policy", cfg.Session.DuplicatePolicy))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverDone:
		runErr = err
		logger.Error("api server stopped", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stopping the loop flushes every persisting session to the saver
	stopLoop()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("game loop exit", zap.Error(err))
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := saver.Wait(ctx); err != nil {
		logger.Warn("pending saves abandoned", zap.Error(err))
	}
	audit.Stop()

	logger.Info("goodbye")
	return runErr
}

// openStore selects the character store named by cfg.Driver.
func openStore(cfg config.StorageConfig, logger *zap.Logger) (persist.Store, func(), error) {
	switch cfg.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory character store, progress is lost on restart")
		return persist.NewMemoryStore(), func() {}, nil
	case config.StorageMongo:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
		defer cancel()
		store, err := persist.ConnectMongo(ctx, cfg, logger.Named("mongo"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
			defer cancel()
			if err := store.Close(ctx); err != nil {
				logger.Warn("closing mongo", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func printBanner() {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("================================")
	title.Println("  SHLOP - SESSION SERVER")
	title.Println("================================")
}
