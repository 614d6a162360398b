package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickerd/internal/storage"
	"tickerd/internal/strategy"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunPreservesAlarmIDsAndResetsBookkeeping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)

	s := ticker.Hourly(2, ticker.TimeOfDay{Hour: 9}, ticker.TimeOfDay{Hour: 17})
	tk := ticker.Ticker{
		ID:       "t1",
		Label:    "hydrate",
		Enabled:  true,
		Schedule: &s,
	}
	tk.Regen.SetAlarmIDs([]string{"a1", "a2", "a3"})
	tk.Regen.LastRunAt = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tk.Regen.LastRunOK = true
	tk.Regen.NextRunAt = time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	migrated, err := Run(ctx, st, logx.Nop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !migrated {
		t.Fatal("first Run did not migrate")
	}

	got, ok, err := st.GetTicker(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("GetTicker: ok=%v err=%v", ok, err)
	}
	if len(got.Regen.AlarmIDs) != 3 {
		t.Fatalf("alarm ids changed: %v", got.Regen.AlarmIDs)
	}
	if !got.Regen.LastRunAt.IsZero() || got.Regen.LastRunOK || !got.Regen.NextRunAt.IsZero() {
		t.Fatalf("bookkeeping not reset: %+v", got.Regen)
	}
	if got.Regen.Strategy != string(strategy.TagDense) {
		t.Fatalf("strategy = %q, want %q", got.Regen.Strategy, strategy.TagDense)
	}

	if v, _ := st.GetFlag(ctx, FlagKey); !v {
		t.Fatal("migration flag not set after success")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)

	if _, err := Run(ctx, st, logx.Nop()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Mutate bookkeeping after migration; the second Run must not touch it.
	s := ticker.Daily(ticker.TimeOfDay{Hour: 7})
	tk := ticker.Ticker{ID: "t1", Label: "x", Enabled: true, Schedule: &s}
	tk.Regen.LastRunAt = time.Date(2024, 2, 1, 7, 0, 0, 0, time.UTC)
	tk.Regen.LastRunOK = true
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	migrated, err := Run(ctx, st, logx.Nop())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if migrated {
		t.Fatal("second Run migrated again")
	}
	got, _, _ := st.GetTicker(ctx, "t1")
	if got.Regen.LastRunAt.IsZero() || !got.Regen.LastRunOK {
		t.Fatalf("second Run rewrote bookkeeping: %+v", got.Regen)
	}
}
