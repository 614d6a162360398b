// Package migrate upgrades regeneration bookkeeping exactly once.
//
// The upgrade never touches the alarm-ID sets: those represent live external
// registrations that must keep firing. It only resets the bookkeeping so the
// orchestrator health-checks every ticker on its next trigger, and assigns
// strategy tags from the current selector.
package migrate

import (
	"context"
	"fmt"
	"time"

	"tickerd/internal/storage"
	"tickerd/internal/strategy"
	logx "tickerd/pkg/logx"
)

// FlagKey gates the one-time migration. It is set only after every ticker
// migrated successfully, so a failed run leaves the app operating on
// pre-migration state and retries on next launch.
const FlagKey = "has_migrated"

// Run performs the one-time bookkeeping migration. Idempotent: a no-op when
// the flag is already set. Returns true when this call performed the
// migration.
func Run(ctx context.Context, store storage.Store, log logx.Logger) (bool, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	done, err := store.GetFlag(ctx, FlagKey)
	if err != nil {
		return false, fmt.Errorf("read migration flag: %w", err)
	}
	if done {
		return false, nil
	}

	tickers, err := store.ListTickers(ctx, storage.Filter{})
	if err != nil {
		return false, fmt.Errorf("list tickers: %w", err)
	}

	start := time.Now()
	for i := range tickers {
		t := tickers[i]

		// Preserve AlarmIDs untouched; reset the rest so the next trigger
		// forces a health-check.
		t.Regen.LastRunAt = time.Time{}
		t.Regen.LastRunOK = false
		t.Regen.NextRunAt = time.Time{}
		t.Regen.Strategy = string(strategy.Select(t.Schedule))

		if err := store.PutTicker(ctx, t); err != nil {
			return false, fmt.Errorf("migrate ticker %s: %w", t.ID, err)
		}
	}

	if err := store.SetFlag(ctx, FlagKey, true); err != nil {
		return false, fmt.Errorf("set migration flag: %w", err)
	}

	log.Info("bookkeeping migration complete",
		logx.Int("tickers", len(tickers)),
		logx.Duration("took", time.Since(start)))
	return true, nil
}
