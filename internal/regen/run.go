package regen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tickerd/internal/alarmd"
	"tickerd/internal/eventbus"
	"tickerd/internal/recur"
	"tickerd/internal/storage"
	"tickerd/internal/strategy"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

var ErrNotFound = errors.New("ticker not found")

// slotKey identifies one desired registration: an instant plus whether it is
// the trigger or its pre-alert. Keyed on UnixNano so location representation
// differences can't split a slot in two.
type slotKey struct {
	at   int64
	kind alarmd.PayloadKind
}

type slot struct {
	at   time.Time
	kind alarmd.PayloadKind
}

// RegenerateAll runs one pass over every ticker. Tickers are processed
// independently: a failure is recorded in the report and never aborts the
// batch. force bypasses per-ticker rate limiting.
func (s *Service) RegenerateAll(ctx context.Context, trig Trigger, force bool) (Report, error) {
	if !s.Enabled() {
		return Report{Trigger: trig}, nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	now := started.In(s.Location())

	tickers, err := s.store.ListTickers(ctx, storage.Filter{})
	if err != nil {
		return Report{Trigger: trig}, fmt.Errorf("list tickers: %w", err)
	}
	live, err := s.sched.ListLive(ctx)
	if err != nil {
		// Nothing was touched; the whole pass is retried on the next trigger.
		return Report{Trigger: trig}, fmt.Errorf("list live alarms: %w", err)
	}

	perTicker := map[string][]alarmd.Registration{}
	for _, reg := range live {
		perTicker[reg.Payload.TickerID] = append(perTicker[reg.Payload.TickerID], reg)
	}

	known := make(map[string]bool, len(tickers))
	active := 0
	for _, t := range tickers {
		known[t.ID] = true
		if t.Enabled {
			active++
		}
	}

	rep := Report{Trigger: trig, Forced: force, Started: started}
	for i := range tickers {
		res := s.regenOne(ctx, &tickers[i], now, force, active, perTicker[tickers[i].ID])
		rep.Results = append(rep.Results, res)
		switch {
		case res.Skipped:
			rep.Skipped++
		case res.OK():
			rep.Processed++
		default:
			rep.Processed++
			rep.Failed++
		}
	}

	// Orphan sweep: live registrations whose ticker no longer exists keep
	// the capacity budget hostage; cancel them.
	for id, reg := range live {
		if known[reg.Payload.TickerID] {
			continue
		}
		if err := s.sched.Cancel(ctx, id); err != nil {
			s.log.Warn("orphan alarm cancel failed", logx.String("id", id), logx.Err(err))
			continue
		}
		s.log.Info("orphan alarm cancelled", logx.String("id", id), logx.String("ticker", reg.Payload.TickerID))
	}

	rep.Took = time.Since(started)
	s.mu.Lock()
	cp := rep
	s.lastReport = &cp
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventRegenDone, Data: rep})
	}
	if rep.Failed > 0 {
		s.log.Warn("regeneration pass finished with failures",
			logx.String("trigger", string(trig)),
			logx.Int("processed", rep.Processed),
			logx.Int("failed", rep.Failed))
	} else {
		s.log.Debug("regeneration pass finished",
			logx.String("trigger", string(trig)),
			logx.Int("processed", rep.Processed),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took))
	}
	return rep, nil
}

// RegenerateTicker runs one pass for a single ticker.
func (s *Service) RegenerateTicker(ctx context.Context, id string, trig Trigger, force bool) (Result, error) {
	if !s.Enabled() {
		return Result{TickerID: id, Trigger: trig, Skipped: true, SkipReason: "service disabled"}, nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := time.Now().In(s.Location())
	t, ok, err := s.store.GetTicker(ctx, id)
	if err != nil {
		return Result{TickerID: id}, err
	}
	if !ok {
		return Result{TickerID: id}, ErrNotFound
	}

	enabled, err := s.store.ListTickers(ctx, storage.Filter{EnabledOnly: true})
	if err != nil {
		return Result{TickerID: id}, err
	}
	live, err := s.sched.ListLive(ctx)
	if err != nil {
		return Result{TickerID: id}, fmt.Errorf("list live alarms: %w", err)
	}
	var current []alarmd.Registration
	for _, reg := range live {
		if reg.Payload.TickerID == id {
			current = append(current, reg)
		}
	}

	res := s.regenOne(ctx, &t, now, force, len(enabled), current)
	res.Trigger = trig
	return res, nil
}

// Deactivate cancels all of a ticker's live registrations and clears its
// alarm-ID set. Used when a ticker is disabled or about to be deleted.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	live, err := s.sched.ListLive(ctx)
	if err != nil {
		return fmt.Errorf("list live alarms: %w", err)
	}
	for regID, reg := range live {
		if reg.Payload.TickerID != id {
			continue
		}
		if err := s.sched.Cancel(ctx, regID); err != nil {
			return fmt.Errorf("cancel alarm %s: %w", regID, err)
		}
	}

	t, ok, err := s.store.GetTicker(ctx, id)
	if err != nil || !ok {
		return err
	}
	t.Regen.SetAlarmIDs(nil)
	return s.store.PutTicker(ctx, t)
}

// regenOne runs one full pass for one ticker: skip checks, expansion,
// diff-and-register against the scheduler's live set, bookkeeping persist.
// current must hold every live registration belonging to this ticker —
// including ones the bookkeeping cache lost track of, so a crash mid-pass
// cannot produce duplicate registrations.
func (s *Service) regenOne(ctx context.Context, t *ticker.Ticker, now time.Time, force bool, active int, current []alarmd.Registration) Result {
	res := Result{TickerID: t.ID, Label: t.Label}

	if !t.Enabled {
		res.Skipped = true
		res.SkipReason = "disabled"
		return res
	}

	tag := strategy.Tag(t.Regen.Strategy)
	if tag == "" {
		tag = strategy.Select(t.Schedule)
	}
	p := tag.Params()

	if !force && !t.Regen.LastRunAt.IsZero() && now.Sub(t.Regen.LastRunAt) < p.MinInterval {
		res.Skipped = true
		res.SkipReason = "rate limited"
		return res
	}

	s.mu.Lock()
	capacity := s.cfg.Capacity
	s.mu.Unlock()
	horizon := strategy.FairHorizon(p.Horizon, capacity, active)

	instants, err := s.targetInstants(t, now, horizon)
	if err != nil {
		res.Err = err.Error()
		t.Regen.LastRunAt = now
		t.Regen.LastRunOK = false
		s.persist(ctx, t, &res)
		return res
	}

	desired := map[slotKey]slot{}
	for _, atInstant := range instants {
		desired[slotKey{atInstant.UnixNano(), alarmd.KindTrigger}] = slot{atInstant, alarmd.KindTrigger}
		if t.Countdown != nil && t.Schedule != nil {
			pre := atInstant.Add(-t.Countdown.Lead)
			if pre.After(now) {
				desired[slotKey{pre.UnixNano(), alarmd.KindPrealert}] = slot{pre, alarmd.KindPrealert}
			}
		}
	}

	// Diff: keep live registrations matching a desired slot, cancel the
	// rest (stale instants, past occurrences, duplicates from a crashed
	// pass).
	var failures []string
	keep := make([]string, 0, len(desired))
	satisfied := map[slotKey]bool{}
	for _, reg := range current {
		k := slotKey{reg.At.UnixNano(), reg.Payload.Kind}
		if _, want := desired[k]; want && !satisfied[k] {
			satisfied[k] = true
			keep = append(keep, reg.ID)
			continue
		}
		if err := s.sched.Cancel(ctx, reg.ID); err != nil {
			// Still live; keep it in the set so the next pass retries.
			failures = append(failures, fmt.Sprintf("cancel %s: %v", reg.ID, err))
			keep = append(keep, reg.ID)
			continue
		}
		res.Cancelled++
	}

	// Register missing slots earliest-first so a capacity shortfall favors
	// the nearest instants.
	missing := make([]slot, 0, len(desired))
	for k, sl := range desired {
		if !satisfied[k] {
			missing = append(missing, sl)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].at.Before(missing[j].at) })
	for _, sl := range missing {
		id, err := s.sched.Register(ctx, sl.at, alarmd.Payload{
			TickerID: t.ID,
			Label:    t.Label,
			Kind:     sl.kind,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("register %s: %v", sl.at.Format(time.RFC3339), err))
			if errors.Is(err, alarmd.ErrCapacity) {
				// Later instants would hit the same wall.
				break
			}
			continue
		}
		keep = append(keep, id)
		res.Registered++
	}

	// Bookkeeping: the persisted set reflects the post-diff
	// target even on partial failure, so re-running is idempotent.
	t.Regen.SetAlarmIDs(keep)
	t.Regen.Strategy = string(tag)
	t.Regen.LastRunAt = now
	t.Regen.LastRunOK = len(failures) == 0
	if p.Recheck > 0 {
		t.Regen.NextRunAt = now.Add(p.Recheck)
	} else {
		t.Regen.NextRunAt = time.Time{}
	}

	// One-shot exhaustion: nothing left to fire, surface as terminal
	// instead of silently regenerating forever.
	if len(instants) == 0 && (t.Schedule == nil || t.Schedule.Kind == ticker.KindOneTime) {
		t.Enabled = false
		res.Exhausted = true
	}

	res.Live = len(keep)
	if len(failures) > 0 {
		res.Err = strings.Join(failures, "; ")
	}
	s.persist(ctx, t, &res)
	return res
}

// targetInstants expands the schedule, or derives the single countdown
// instant for schedule-less tickers.
func (s *Service) targetInstants(t *ticker.Ticker, now time.Time, horizon int) ([]time.Time, error) {
	if t.Schedule != nil {
		return recur.Expand(*t.Schedule, now, horizon)
	}
	if t.Countdown != nil {
		fire := t.CreatedAt.Add(t.Countdown.Lead)
		if fire.After(now) {
			return []time.Time{fire}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (s *Service) persist(ctx context.Context, t *ticker.Ticker, res *Result) {
	if err := s.store.PutTicker(ctx, *t); err != nil {
		if res.Err != "" {
			res.Err += "; "
		}
		res.Err += fmt.Sprintf("persist: %v", err)
		s.log.Error("bookkeeping persist failed", logx.String("ticker", t.ID), logx.Err(err))
	}
}
