package app

import (
	"fmt"
	"strings"
	"time"

	"tickerd/internal/alarmd"
	"tickerd/internal/config"
	"tickerd/internal/observability/pprof"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	logx "tickerd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./tickerd_store"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapAlarmsConfig(cfg *config.Config) alarmd.Config {
	return alarmd.Config{
		Capacity:   cfg.Alarms.Capacity,
		RatePerSec: cfg.Alarms.RatePerSec,
	}
}

func mapRegenConfig(cfg *config.Config) (regen.Config, error) {
	tick, err := config.ParseDurationOrDefault("regen.tick", cfg.Regen.Tick, 15*time.Minute)
	if err != nil {
		return regen.Config{}, err
	}
	if tick < time.Minute {
		return regen.Config{}, fmt.Errorf("regen.tick: %s below 1m floor", tick)
	}
	capacity := cfg.Alarms.Capacity
	if capacity <= 0 {
		capacity = 64
	}
	return regen.Config{
		Enabled:      cfg.Regen.Enabled,
		Tick:         tick,
		Timezone:     cfg.Regen.Timezone,
		Capacity:     capacity,
		ForceOnStart: cfg.Regen.ForceOnStart,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	if cfg.Pprof == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
	}
}
