package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickerd/internal/storage"
	"tickerd/internal/ticker"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := `
storage:
  driver: file
  path: ` + filepath.Join(dir, "store") + `
alarms:
  capacity: 16
regen:
  enabled: true
  tick: 15m
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.store.Close(); a.logs.Close() })
	return a
}

func TestCreateAndGetTicker(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()

	s := ticker.Daily(ticker.TimeOfDay{Hour: 7, Minute: 30})
	tk, err := a.CreateTicker(ctx, "water the plants", &s, nil)
	if err != nil {
		t.Fatalf("CreateTicker: %v", err)
	}
	if tk.ID == "" || !tk.Enabled {
		t.Fatalf("created = %+v", tk)
	}

	got, ok, err := a.GetTicker(ctx, tk.ID)
	if err != nil || !ok {
		t.Fatalf("GetTicker: ok=%v err=%v", ok, err)
	}
	if got.Label != "water the plants" {
		t.Fatalf("label = %q", got.Label)
	}

	bad := ticker.Schedule{Kind: "sporadic"}
	if _, err := a.CreateTicker(ctx, "nope", &bad, nil); err == nil {
		t.Fatal("invalid schedule accepted")
	}
}

func TestSaveTickerPinsBiweeklyAnchor(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()

	s := ticker.Biweekly(ticker.TimeOfDay{Hour: 9}, ticker.Days(time.Monday))
	tk, err := a.CreateTicker(ctx, "standup", &s, nil)
	if err != nil {
		t.Fatalf("CreateTicker: %v", err)
	}
	if tk.Schedule.Anchor.IsZero() {
		t.Fatal("anchor not pinned at save time")
	}
	pinned := tk.Schedule.Anchor

	// A day-set edit keeps the original parity anchor.
	edit := ticker.Biweekly(ticker.TimeOfDay{Hour: 9}, ticker.Days(time.Monday, time.Thursday))
	if err := a.UpdateSchedule(ctx, tk.ID, &edit); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	got, _, _ := a.GetTicker(ctx, tk.ID)
	if !got.Schedule.Anchor.Equal(pinned) {
		t.Fatalf("anchor moved: %v -> %v", pinned, got.Schedule.Anchor)
	}
}

func TestDeleteTicker(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()

	s := ticker.Daily(ticker.TimeOfDay{Hour: 7})
	tk, err := a.CreateTicker(ctx, "gone soon", &s, nil)
	if err != nil {
		t.Fatalf("CreateTicker: %v", err)
	}
	if err := a.DeleteTicker(ctx, tk.ID); err != nil {
		t.Fatalf("DeleteTicker: %v", err)
	}
	if _, ok, _ := a.GetTicker(ctx, tk.ID); ok {
		t.Fatal("ticker still present after delete")
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ctx := context.Background()

	s := ticker.Daily(ticker.TimeOfDay{Hour: 7})
	tk, err := a.CreateTicker(ctx, "on and off", &s, nil)
	if err != nil {
		t.Fatalf("CreateTicker: %v", err)
	}

	if err := a.SetEnabled(ctx, tk.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _, _ := a.GetTicker(ctx, tk.ID)
	if got.Enabled {
		t.Fatal("still enabled")
	}
	if len(got.Regen.AlarmIDs) != 0 {
		t.Fatalf("disabled ticker kept alarm ids %v", got.Regen.AlarmIDs)
	}

	if err := a.SetEnabled(ctx, tk.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _, _ = a.GetTicker(ctx, tk.ID)
	if !got.Enabled {
		t.Fatal("still disabled")
	}

	// No-op flips succeed silently.
	if err := a.SetEnabled(ctx, tk.ID, true); err != nil {
		t.Fatalf("no-op enable: %v", err)
	}
	if err := a.SetEnabled(ctx, "missing", true); err != storage.ErrNotFound {
		t.Fatalf("missing ticker = %v, want ErrNotFound", err)
	}

	enabled, err := a.Tickers(ctx, storage.Filter{EnabledOnly: true})
	if err != nil {
		t.Fatalf("Tickers: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("enabled list = %d", len(enabled))
	}
}
