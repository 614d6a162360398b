package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("ticker not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter selects a subset of tickers.
type Filter struct {
	EnabledOnly bool
}

// Store is the transactional ticker persistence API.
//
// Put is an upsert; writes must be safe to re-run (the orchestrator persists
// bookkeeping after partially failed passes and retries them later).
type Store interface {
	PutTicker(ctx context.Context, t ticker.Ticker) error
	GetTicker(ctx context.Context, id string) (ticker.Ticker, bool, error)
	DeleteTicker(ctx context.Context, id string) error
	ListTickers(ctx context.Context, f Filter) ([]ticker.Ticker, error)

	GetFlag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, v bool) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
