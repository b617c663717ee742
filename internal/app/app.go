// Package app wires the chat gateway daemon: config, cache, upstream
// clients, the merge engine and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"fpchat/internal/retention"
	"fpchat/pkg/config"
	"fpchat/pkg/engine"
	"fpchat/pkg/history"
	"fpchat/pkg/live"
	"fpchat/pkg/logger"
	"fpchat/pkg/models"
	"fpchat/pkg/progressor"
	"fpchat/pkg/sensor"
	"fpchat/pkg/state"
	"fpchat/pkg/store"
)

// App encapsulates the gateway components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	cachePath string
	version   string
	commit    string
	buildDate string

	eng      *engine.Engine
	consumer *live.Consumer

	srv *http.Server
}

// New initializes resources that do not require a running context (cache,
// state dirs, runtime keys, engine). Call Run to start the live consumer,
// retention and the HTTP server, and block until shutdown.
func New(cfg *config.Config, addr, cachePath, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg, cachePath); err != nil {
		return nil, err
	}

	config.SetRuntime(&config.RuntimeConfig{
		FrontendKeys: config.FrontendKeySet(cfg),
		AllowUnauth:  cfg.Security.APIKeys.AllowUnauth,
	})

	if err := state.EnsureStateDirs(cachePath); err != nil {
		return nil, fmt.Errorf("state dirs: %w", err)
	}
	if err := store.Open(state.Dirs().Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.Dirs().Store, err)
	}

	if invoked, err := progressor.Run(context.Background(), version); err != nil {
		logger.Error("cache_migration_failed", "error", err)
		return nil, fmt.Errorf("cache migration: %w", err)
	} else if invoked {
		logger.Info("cache_migration_complete", "version", version)
	}

	hist := history.NewClient(cfg.Chat.HistoryURL, cfg.Chat.PageSize, cfg.Chat.Rate.RPS, cfg.Chat.Rate.Burst)
	eng := engine.New(cfg, hist, newSendPrimitive(cfg))
	eng.SetCallHandler(func(c models.IncomingCall) {
		logger.Info("incoming_call", "from", c.From, "channel", c.Channel, "call_type", c.CallType)
	})

	consumer := live.NewConsumer(cfg.Chat.LiveURL, live.Handlers{
		OnEvent:        eng.HandleLiveEvent,
		OnConnected:    func() { logger.Info("live_stream_connected") },
		OnDisconnected: func() { logger.Warn("live_stream_dropped") },
		TokenSource: func(ctx context.Context) (string, error) {
			return cfg.Chat.Token, nil
		},
	})

	a := &App{
		cfg:       cfg,
		addr:      addr,
		cachePath: cachePath,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		eng:       eng,
		consumer:  consumer,
	}
	return a, nil
}

// Engine exposes the merge engine, mainly for tests and tooling.
func (a *App) Engine() *engine.Engine { return a.eng }

// Run starts the live consumer, retention sweep and HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	if a.cfg.Chat.LiveURL != "" {
		go func() {
			if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("live_consumer_exited", "error", err)
			}
		}()
	} else {
		logger.Warn("live_stream_disabled", "reason", "no live_url configured")
	}

	cancelRetention, err := retention.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer cancelRetention()

	mon := sensor.New(uint64(a.cfg.Storage.CacheSize), 30*time.Second)
	mon.OnPressure(func(ev sensor.PressureEvent) {
		if ev.Reason != "cache_disk_high" {
			return
		}
		logger.Warn("cache_pressure_sweep", "used_bytes", ev.Snap.CacheDiskBytes)
		if err := retention.RunImmediate(); err != nil {
			logger.Error("cache_pressure_sweep_failed", "error", err)
		}
	})
	mon.Start()
	defer mon.Stop()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the cache and stops the HTTP server.
func (a *App) Close(ctx context.Context) error {
	if a.srv != nil {
		_ = a.srv.Shutdown(ctx)
	}
	return store.Close()
}
