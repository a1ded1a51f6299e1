package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/cron"
	"github.com/basket/bujo/internal/telemetry"
)

func runServeCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo serve")
		return 2
	}

	// Logs go to stdout as well unless stdout is an interactive terminal.
	a, code := startApp(ctx, isTerminal())
	if a == nil {
		return code
	}
	defer a.Close()
	logger := a.logger

	sched, err := newJobScheduler(a)
	if err != nil {
		return fail(logger, "E_CRON_CONFIG", err)
	}
	sched.Start(ctx)
	defer func() { sched.Stop() }()

	events := a.bus.Subscribe("")
	defer a.bus.Unsubscribe(events)
	go logEvents(ctx, telemetry.Component(logger, "events"), events)

	confWatcher := config.NewWatcher(a.cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		return fail(logger, "E_CONFIG_WATCHER_START", err)
	}
	logger.Info("bujo serve started", "version", Version, "user_id", a.cfg.UserID, "config", a.cfg.Fingerprint())

	for {
		select {
		case <-ctx.Done():
			logger.Info("bujo serve stopping", "events_dropped", events.Dropped())
			return 0
		case ev, ok := <-confWatcher.Events():
			if !ok {
				return 0
			}
			logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			next, err := handleConfigEvent(a, ev)
			if err != nil {
				logger.Error("config reload rejected; retaining previous config", "error", err)
				continue
			}
			if next == nil {
				continue
			}
			sched.Stop()
			sched = next
			sched.Start(ctx)
		}
	}
}

// newJobScheduler builds the sync, rollover and snapshot jobs from a.cfg.
// Sync stays disabled until both an endpoint and a token are configured.
func newJobScheduler(a *app) (*cron.Scheduler, error) {
	syncSchedule := a.cfg.Sync.Schedule
	if !a.cfg.SyncConfigured() {
		syncSchedule = ""
	}
	return cron.NewScheduler(cron.Config{
		Store:    a.store,
		Logger:   telemetry.Component(a.logger, "cron"),
		Interval: time.Duration(a.cfg.Jobs.TickSeconds) * time.Second,
		Jobs: []cron.Job{
			cron.SyncJob(syncSchedule, a.syncClient(), a.cfg.UserID),
			cron.RolloverJob(a.cfg.Jobs.RolloverSchedule, a.repos.Tasks, a.cfg.UserID),
			cron.SnapshotJob(a.cfg.Jobs.SnapshotSchedule, a.store, a.snapshotDir(), a.cfg.Jobs.SnapshotKeep),
		},
	})
}

// handleConfigEvent re-applies $BUJO_HOME/.env when it changed, with the same
// precedence as at startup, then reloads the configuration.
func handleConfigEvent(a *app, ev config.ReloadEvent) (*cron.Scheduler, error) {
	if filepath.Base(ev.Path) == config.EnvFileName {
		if err := config.LoadEnv(a.cfg.HomeDir); err != nil {
			return nil, fmt.Errorf("reload %s: %w", ev.Path, err)
		}
	}
	return reloadConfig(a)
}

// reloadConfig re-reads config.yaml and the environment. It returns a new
// scheduler when settings that shape the jobs changed, nil otherwise. The
// log level applies at once; the database path only on restart.
func reloadConfig(a *app) (*cron.Scheduler, error) {
	newCfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if newCfg.LogLevel != a.cfg.LogLevel {
		a.logger.Info("log level changed", "level", telemetry.SetLevel(newCfg.LogLevel).String())
	}
	if newCfg.Fingerprint() == a.cfg.Fingerprint() && newCfg.Sync.Token == a.cfg.Sync.Token {
		return nil, nil
	}
	if newCfg.DBPath != a.cfg.DBPath {
		a.logger.Warn("db_path changed; restart bujo serve to use it", "db_path", newCfg.DBPath)
		newCfg.DBPath = a.cfg.DBPath
	}
	prev := a.cfg
	a.cfg = newCfg
	sched, err := newJobScheduler(a)
	if err != nil {
		a.cfg = prev
		return nil, err
	}
	a.logger.Info("config.yaml hot-reloaded", "config", newCfg.Fingerprint(), "jobs", sched.Jobs())
	return sched, nil
}

func logEvents(ctx context.Context, logger *slog.Logger, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch p := ev.Payload.(type) {
			case bus.SyncCompletedEvent:
				logger.Info("sync completed", "user_id", p.UserID, "success", p.Success, "applied", p.Applied, "conflicts", p.Conflicts)
			case bus.KeyRateLimitedEvent:
				logger.Warn("chat key cooling down", "provider", p.Provider, "key_index", p.Index, "seconds", p.Seconds)
			case bus.RecordEvent:
				logger.Debug("record changed", "topic", ev.Topic, "partition", p.Partition, "id", p.ID)
			default:
				logger.Debug("event", "topic", ev.Topic)
			}
		}
	}
}
