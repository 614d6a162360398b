package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickerd/internal/alarmd"
	"tickerd/internal/config"
	"tickerd/internal/eventbus"
	"tickerd/internal/migrate"
	"tickerd/internal/observability/pprof"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	logx "tickerd/pkg/logx"
)

// App wires config, storage, the alarm scheduler and the regeneration
// orchestrator together and owns their lifecycle.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	store  storage.Store
	alarms *alarmd.Service
	regen  *regen.Service
	pprof  *pprof.Service

	mu        sync.Mutex
	started   bool
	cancelBG  context.CancelFunc
	wg        sync.WaitGroup
	reloadVer uint64
}

// New loads the config file, builds the service graph and returns the app
// ready to Start. Nothing runs yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	regenCfg, err := mapRegenConfig(cfg)
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	alarms := alarmd.New(mapAlarmsConfig(cfg), log.With(logx.String("comp", "alarmd")), bus)
	regenSvc := regen.New(regenCfg, store, alarms, log.With(logx.String("comp", "regen")), bus)
	pprofSvc := pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))

	// Reject config edits that would not map, before they are published.
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		if _, err := mapRegenConfig(c); err != nil {
			return err
		}
		if _, err := mapStorageConfig(c); err != nil {
			return err
		}
		return nil
	})

	return &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log.With(logx.String("comp", "app")),
		bus:    bus,
		store:  store,
		alarms: alarms,
		regen:  regenSvc,
		pprof:  pprofSvc,
	}, nil
}

// Start runs the one-time migration, the initial regeneration pass and all
// background services. It notifies systemd readiness once everything is up.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBG = cancel
	a.mu.Unlock()

	start := time.Now()

	migrated, err := migrate.Run(ctx, a.store, a.log)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}

	if err := a.pprof.Start(bgCtx); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.regen.Start(bgCtx)

	// Initial pass. A fresh migration forces it so every migrated ticker is
	// re-planned against the expanded model right away.
	force := migrated || a.forceOnStart()
	if a.regen.Enabled() {
		if _, err := a.regen.RegenerateAll(ctx, a.startupTrigger(migrated), force); err != nil {
			a.log.Warn("startup regeneration failed", logx.Err(err))
		}
	}

	a.startConfigWatch(bgCtx)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd readiness notified")
	}

	a.log.Info("app started",
		logx.Bool("migrated", migrated),
		logx.Bool("forced_start", force),
		logx.Duration("took", time.Since(start)))
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	cancel := a.cancelBG
	a.cancelBG = nil
	a.mu.Unlock()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.regen.Stop(ctx)
	a.alarms.Stop(ctx)
	a.pprof.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
	a.logs.Close()
}

func (a *App) forceOnStart() bool {
	cfg := a.cfgm.Get()
	return cfg != nil && cfg.Regen.ForceOnStart
}

func (a *App) startupTrigger(migrated bool) regen.Trigger {
	if migrated {
		return regen.TriggerMigration
	}
	return regen.TriggerStartup
}

// startConfigWatch runs the fsnotify watcher plus a reload loop applying
// changed sections in place. Storage driver changes need a restart and are
// only logged.
func (a *App) startConfigWatch(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch terminated", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(ch)
		prev := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.applyReload(ctx, prev, cfg)
				prev = cfg
			}
		}
	}()
}

func (a *App) applyReload(ctx context.Context, prev, cfg *config.Config) {
	ch := config.Diff(prev, cfg)
	if !ch.Any() {
		return
	}
	a.mu.Lock()
	a.reloadVer++
	ver := a.reloadVer
	a.mu.Unlock()

	if ch.Logging {
		a.logs.Apply(mapLoggingConfig(cfg))
	}
	if ch.Alarms {
		a.alarms.Apply(mapAlarmsConfig(cfg))
	}
	if ch.Regen {
		rc, err := mapRegenConfig(cfg)
		if err != nil {
			// Validator should have caught this; keep running on the old config.
			a.log.Error("reload: regen config rejected", logx.Err(err))
		} else {
			a.regen.Apply(rc)
		}
	}
	if ch.Pprof {
		a.pprof.Stop(ctx)
		a.pprof.Apply(mapPprofConfig(cfg))
		if err := a.pprof.Start(ctx); err != nil {
			a.log.Warn("reload: pprof restart failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded",
		logx.Int64("reload", int64(ver)),
		logx.Bool("logging", ch.Logging),
		logx.Bool("alarms", ch.Alarms),
		logx.Bool("regen", ch.Regen),
		logx.Bool("pprof", ch.Pprof))
}
