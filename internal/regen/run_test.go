package regen

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tickerd/internal/alarmd"
	"tickerd/internal/storage"
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

func newScheduler(t *testing.T, capacity int) *alarmd.Service {
	t.Helper()
	s := alarmd.New(alarmd.Config{Capacity: capacity}, logx.Nop(), nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func newService(st storage.Store, sched alarmd.Scheduler, capacity int) *Service {
	return New(Config{Enabled: true, Capacity: capacity}, st, sched, logx.Nop(), nil)
}

func putDaily(t *testing.T, st storage.Store, id string) ticker.Ticker {
	t.Helper()
	s := ticker.Daily(ticker.TimeOfDay{Hour: 7, Minute: 30})
	tk := ticker.Ticker{ID: id, Label: id, Enabled: true, Schedule: &s, CreatedAt: time.Now()}
	if err := st.PutTicker(context.Background(), tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}
	return tk
}

func TestRegenerateAllIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	putDaily(t, st, "t1")
	putDaily(t, st, "t2")

	rep, err := svc.RegenerateAll(ctx, TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if rep.Processed != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}

	live, _ := sched.ListLive(ctx)
	firstCount := len(live)
	if firstCount == 0 {
		t.Fatal("first pass registered nothing")
	}

	// A second forced pass over unchanged tickers must neither register nor
	// cancel anything.
	rep, err = svc.RegenerateAll(ctx, TriggerForce, true)
	if err != nil {
		t.Fatalf("second RegenerateAll: %v", err)
	}
	for _, res := range rep.Results {
		if res.Registered != 0 || res.Cancelled != 0 {
			t.Fatalf("second pass mutated %s: %+v", res.TickerID, res)
		}
	}
	live, _ = sched.ListLive(ctx)
	if len(live) != firstCount {
		t.Fatalf("live count changed: %d -> %d", firstCount, len(live))
	}

	// Bookkeeping matches the scheduler exactly.
	tk, _, _ := st.GetTicker(ctx, "t1")
	if !tk.Regen.LastRunOK || len(tk.Regen.AlarmIDs) == 0 {
		t.Fatalf("bookkeeping = %+v", tk.Regen)
	}
	for _, id := range tk.Regen.AlarmIDs {
		if _, ok := live[id]; !ok {
			t.Fatalf("cached id %s not live", id)
		}
	}
}

func TestRegeneratePreAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	s := ticker.Daily(ticker.TimeOfDay{Hour: 7, Minute: 30})
	tk := ticker.Ticker{
		ID: "t1", Label: "meds", Enabled: true,
		Schedule:  &s,
		Countdown: &ticker.Countdown{Lead: 10 * time.Minute},
		CreatedAt: time.Now(),
	}
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	if _, err := svc.RegenerateAll(ctx, TriggerStartup, true); err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}

	live, _ := sched.ListLive(ctx)
	triggers, prealerts := 0, 0
	pre := map[int64]bool{}
	trig := map[int64]bool{}
	for _, reg := range live {
		switch reg.Payload.Kind {
		case alarmd.KindTrigger:
			triggers++
			trig[reg.At.UnixNano()] = true
		case alarmd.KindPrealert:
			prealerts++
			pre[reg.At.UnixNano()] = true
		}
	}
	if triggers == 0 || prealerts == 0 {
		t.Fatalf("triggers=%d prealerts=%d", triggers, prealerts)
	}
	// Every pre-alert sits exactly Lead before a registered trigger.
	for at := range pre {
		if !trig[at+int64(10*time.Minute)] {
			t.Fatalf("pre-alert at %d has no matching trigger", at)
		}
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := &flakyScheduler{inner: newScheduler(t, 64), failTicker: "bad"}
	svc := newService(st, sched, 64)

	putDaily(t, st, "bad")
	putDaily(t, st, "good")

	rep, err := svc.RegenerateAll(ctx, TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if rep.Processed != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}

	good, _, _ := st.GetTicker(ctx, "good")
	if !good.Regen.LastRunOK || len(good.Regen.AlarmIDs) == 0 {
		t.Fatalf("good ticker bookkeeping = %+v", good.Regen)
	}
	bad, _, _ := st.GetTicker(ctx, "bad")
	if bad.Regen.LastRunOK {
		t.Fatal("failed ticker reported LastRunOK")
	}
	if bad.Regen.LastRunAt.IsZero() {
		t.Fatal("failed ticker did not record the attempt")
	}
}

func TestExhaustedOneTimeDisables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	s := ticker.OneTime(time.Now().Add(-time.Hour))
	tk := ticker.Ticker{ID: "t1", Label: "past", Enabled: true, Schedule: &s, CreatedAt: time.Now().Add(-2 * time.Hour)}
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	res, err := svc.RegenerateTicker(ctx, "t1", TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateTicker: %v", err)
	}
	if !res.Exhausted {
		t.Fatalf("result = %+v, want exhausted", res)
	}

	got, _, _ := st.GetTicker(ctx, "t1")
	if got.Enabled {
		t.Fatal("exhausted one-shot still enabled")
	}
	if len(got.Regen.AlarmIDs) != 0 {
		t.Fatalf("exhausted one-shot kept alarm ids %v", got.Regen.AlarmIDs)
	}
}

func TestRateLimitSkipsUnlessForced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	tk := putDaily(t, st, "t1")
	tk.Regen.Strategy = "sparse"
	tk.Regen.LastRunAt = time.Now()
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	res, err := svc.RegenerateTicker(ctx, "t1", TriggerTick, false)
	if err != nil {
		t.Fatalf("RegenerateTicker: %v", err)
	}
	if !res.Skipped || res.SkipReason != "rate limited" {
		t.Fatalf("result = %+v, want rate-limited skip", res)
	}
	if res.Trigger != TriggerTick {
		t.Fatalf("trigger = %q, want %q", res.Trigger, TriggerTick)
	}

	res, err = svc.RegenerateTicker(ctx, "t1", TriggerEdit, true)
	if err != nil {
		t.Fatalf("forced RegenerateTicker: %v", err)
	}
	if res.Skipped || res.Registered == 0 {
		t.Fatalf("forced result = %+v", res)
	}
	if res.Trigger != TriggerEdit {
		t.Fatalf("trigger = %q, want %q", res.Trigger, TriggerEdit)
	}
}

func TestSelfHealAdoptsLiveRegistrations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	// One-time ticker with a known target instant.
	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)
	s := ticker.OneTime(fireAt)
	tk := ticker.Ticker{ID: "t1", Label: "x", Enabled: true, Schedule: &s, CreatedAt: time.Now()}
	if err := st.PutTicker(ctx, tk); err != nil {
		t.Fatalf("PutTicker: %v", err)
	}

	// Simulate a crash after registering but before persisting bookkeeping:
	// the registration is live, the cached set is empty.
	orphanID, err := sched.Register(ctx, fireAt, alarmd.Payload{TickerID: "t1", Kind: alarmd.KindTrigger})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	staleID, err := sched.Register(ctx, fireAt.Add(-time.Hour), alarmd.Payload{TickerID: "t1", Kind: alarmd.KindTrigger})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.RegenerateTicker(ctx, "t1", TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateTicker: %v", err)
	}
	if res.Registered != 0 {
		t.Fatalf("adopted slot was re-registered: %+v", res)
	}
	if res.Cancelled != 1 {
		t.Fatalf("stale registration not cancelled: %+v", res)
	}

	live, _ := sched.ListLive(ctx)
	if len(live) != 1 {
		t.Fatalf("live = %v", live)
	}
	if _, ok := live[orphanID]; !ok {
		t.Fatal("desired registration was not adopted")
	}
	if _, ok := live[staleID]; ok {
		t.Fatal("stale registration survived")
	}

	got, _, _ := st.GetTicker(ctx, "t1")
	if len(got.Regen.AlarmIDs) != 1 || got.Regen.AlarmIDs[0] != orphanID {
		t.Fatalf("bookkeeping = %v", got.Regen.AlarmIDs)
	}
}

func TestOrphanSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	putDaily(t, st, "t1")
	if _, err := sched.Register(ctx, time.Now().Add(time.Hour), alarmd.Payload{TickerID: "deleted-long-ago", Kind: alarmd.KindTrigger}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.RegenerateAll(ctx, TriggerTick, true); err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}

	live, _ := sched.ListLive(ctx)
	for _, reg := range live {
		if reg.Payload.TickerID != "t1" {
			t.Fatalf("orphan survived the sweep: %+v", reg)
		}
	}
}

func TestCapacityShortfallKeepsEarliest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 2)
	// The orchestrator believes capacity is larger, so it asks for more than
	// the scheduler will take.
	svc := newService(st, sched, 16)

	putDaily(t, st, "t1")

	rep, err := svc.RegenerateAll(ctx, TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if rep.Failed != 1 {
		t.Fatalf("report = %+v, want capacity failure recorded", rep)
	}

	live, _ := sched.ListLive(ctx)
	if len(live) != 2 {
		t.Fatalf("live = %d, want 2", len(live))
	}
	// The registered subset must be the nearest instants.
	var latest time.Time
	for _, reg := range live {
		if reg.At.After(latest) {
			latest = reg.At
		}
	}
	if latest.After(time.Now().Add(48 * time.Hour)) {
		t.Fatalf("capacity went to a far instant %v instead of the nearest", latest)
	}

	got, _, _ := st.GetTicker(ctx, "t1")
	if len(got.Regen.AlarmIDs) != 2 || got.Regen.LastRunOK {
		t.Fatalf("bookkeeping = %+v", got.Regen)
	}
}

func TestDeactivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := newService(st, sched, 64)

	putDaily(t, st, "t1")
	if _, err := svc.RegenerateAll(ctx, TriggerStartup, true); err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if live, _ := sched.ListLive(ctx); len(live) == 0 {
		t.Fatal("nothing registered")
	}

	if err := svc.Deactivate(ctx, "t1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if live, _ := sched.ListLive(ctx); len(live) != 0 {
		t.Fatalf("live after deactivate = %d", len(live))
	}
	got, _, _ := st.GetTicker(ctx, "t1")
	if len(got.Regen.AlarmIDs) != 0 {
		t.Fatalf("alarm ids not cleared: %v", got.Regen.AlarmIDs)
	}
}

func TestDisabledServiceDoesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	sched := newScheduler(t, 64)
	svc := New(Config{Enabled: false}, st, sched, logx.Nop(), nil)

	putDaily(t, st, "t1")
	rep, err := svc.RegenerateAll(ctx, TriggerStartup, true)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if rep.Processed != 0 {
		t.Fatalf("disabled service processed %d", rep.Processed)
	}
	if live, _ := sched.ListLive(ctx); len(live) != 0 {
		t.Fatalf("disabled service registered %d alarms", len(live))
	}
}

// flakyScheduler fails registrations for one ticker and delegates the rest.
type flakyScheduler struct {
	inner      *alarmd.Service
	failTicker string
}

func (f *flakyScheduler) Register(ctx context.Context, at time.Time, p alarmd.Payload) (alarmd.ID, error) {
	if p.TickerID == f.failTicker {
		return "", fmt.Errorf("injected: %w", alarmd.ErrUnavailable)
	}
	return f.inner.Register(ctx, at, p)
}

func (f *flakyScheduler) Cancel(ctx context.Context, id alarmd.ID) error {
	return f.inner.Cancel(ctx, id)
}

func (f *flakyScheduler) ListLive(ctx context.Context) (map[alarmd.ID]alarmd.Registration, error) {
	return f.inner.ListLive(ctx)
}

var _ alarmd.Scheduler = (*flakyScheduler)(nil)
