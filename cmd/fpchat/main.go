package main

import (
	"context"
	"os"
	"time"

	"fpchat/internal/app"
	"fpchat/pkg/config"
	"fpchat/pkg/logger"
	"fpchat/pkg/shutdown"
)

// Set at build time via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	logger.Init()

	flags := config.ParseConfigFlags()
	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, loaded, err := config.LoadEffective(cfgPath)
	if err != nil {
		shutdown.Abort("failed to load config", err, flags.Cache, 0)
	}
	if !loaded {
		logger.Warn("config_not_loaded", "path", cfgPath, "msg", "running on flags, env and defaults")
	}

	// Precedence: explicit flag > env/config > flag default.
	addr := cfg.Addr()
	if flags.Set["addr"] || addr == "" {
		addr = flags.Addr
	}
	cachePath := cfg.Storage.CachePath
	if flags.Set["cache"] || cachePath == "" {
		cachePath = flags.Cache
	}

	a, err := app.New(cfg, addr, cachePath, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, cachePath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server error", err, cachePath)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Error("shutdown_error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}
