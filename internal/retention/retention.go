// Package retention evicts conversations whose cached timelines have gone
// stale, on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"fpchat/pkg/config"
	"fpchat/pkg/logger"
	"fpchat/pkg/state"
	"fpchat/pkg/store"
	"fpchat/pkg/telemetry"
)

// DefaultTTL applies when retention is enabled without an explicit ttl.
const DefaultTTL = 30 * 24 * time.Hour

var storedCfg *config.Config

// SetConfig stores the config so tests (or admin triggers) can invoke
// retention runs on-demand.
func SetConfig(cfg *config.Config) { storedCfg = cfg }

// RunImmediate triggers a single retention run using the stored config.
func RunImmediate() error {
	if storedCfg == nil {
		return fmt.Errorf("no config registered for retention run")
	}
	if state.Dirs().Retention == "" {
		return fmt.Errorf("state paths not initialized")
	}
	return runOnce(context.Background(), storedCfg, state.Dirs().Retention)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	SetConfig(cfg)
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.Dirs().Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "ttl", ttl(cfg).String(), "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, retentionPath, cronExpr)
	return cancel, nil
}

func ttl(cfg *config.Config) time.Duration {
	if d := cfg.Retention.TTL.Duration(); d > 0 {
		return d
	}
	return DefaultTTL
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, cfg, retentionPath); err != nil {
				telemetry.RetentionSweeps.WithLabelValues("error").Inc()
				logger.Error("retention_run_error", "error", err)
			} else {
				telemetry.RetentionSweeps.WithLabelValues("ok").Inc()
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce evicts every conversation untouched for longer than the TTL. A
// marker file records the last completed sweep.
func runOnce(ctx context.Context, cfg *config.Config, retentionPath string) error {
	if !store.Ready() {
		return fmt.Errorf("cache not open")
	}
	cutoff := time.Now().Add(-ttl(cfg))
	stale, err := store.StaleConversations(cutoff)
	if err != nil {
		return err
	}
	evicted := 0
	for _, convID := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cfg.Retention.DryRun {
			logger.Info("retention_would_evict", "conversation", convID)
			continue
		}
		if err := store.DropConversation(convID); err != nil {
			logger.Warn("retention_evict_failed", "conversation", convID, "error", err)
			continue
		}
		telemetry.RetentionEvicted.Inc()
		evicted++
	}
	marker := filepath.Join(retentionPath, "last_run")
	_ = os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0o600)
	logger.Info("retention_run_complete", "stale", len(stale), "evicted", evicted, "dry_run", cfg.Retention.DryRun)
	return nil
}
