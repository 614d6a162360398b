package app

import (
	"context"
	"fmt"
	"time"

	"tickerd/internal/alarmd"
	"tickerd/internal/eventbus"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

// CreateTicker validates and persists a new ticker, then publishes the save
// event so the orchestrator plans it immediately (forced, rate limit bypassed).
func (a *App) CreateTicker(ctx context.Context, label string, s *ticker.Schedule, cd *ticker.Countdown) (ticker.Ticker, error) {
	t := ticker.New(label, s, cd)
	if err := a.SaveTicker(ctx, &t); err != nil {
		return ticker.Ticker{}, err
	}
	return t, nil
}

// SaveTicker upserts a ticker. The biweekly parity anchor is pinned here, at
// write time, so later edits and regenerations observe a stable cadence.
func (a *App) SaveTicker(ctx context.Context, t *ticker.Ticker) error {
	if t == nil {
		return fmt.Errorf("save ticker: %w", ticker.ErrInvalidTicker)
	}
	now := time.Now().In(a.regen.Location())
	t.Normalize(now)
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = now

	if err := a.store.PutTicker(ctx, *t); err != nil {
		return fmt.Errorf("save ticker %s: %w", t.ID, err)
	}
	a.log.Info("ticker saved",
		logx.String("ticker", t.ID),
		logx.String("label", t.Label),
		logx.Bool("enabled", t.Enabled))
	a.bus.Publish(eventbus.Event{Type: eventbus.EventTickerSaved, Data: t.ID})
	return nil
}

// UpdateSchedule swaps a ticker's schedule, carrying the parity anchor over
// when only the day set changed.
func (a *App) UpdateSchedule(ctx context.Context, id string, s *ticker.Schedule) error {
	t, ok, err := a.store.GetTicker(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	t.SetSchedule(s, time.Now().In(a.regen.Location()))
	return a.SaveTicker(ctx, &t)
}

// DeleteTicker cancels every live registration belonging to the ticker, then
// removes it from storage.
func (a *App) DeleteTicker(ctx context.Context, id string) error {
	if err := a.regen.Deactivate(ctx, id); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("deactivate ticker %s: %w", id, err)
	}
	if err := a.store.DeleteTicker(ctx, id); err != nil {
		return err
	}
	a.log.Info("ticker deleted", logx.String("ticker", id))
	a.bus.Publish(eventbus.Event{Type: eventbus.EventTickerDeleted, Data: id})
	return nil
}

// SetEnabled flips the enabled flag. Disabling cancels the ticker's live
// registrations; enabling triggers an immediate forced plan.
func (a *App) SetEnabled(ctx context.Context, id string, enabled bool) error {
	t, ok, err := a.store.GetTicker(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	if t.Enabled == enabled {
		return nil
	}

	t.Enabled = enabled
	t.UpdatedAt = time.Now().In(a.regen.Location())
	if err := a.store.PutTicker(ctx, t); err != nil {
		return err
	}

	if !enabled {
		if err := a.regen.Deactivate(ctx, id); err != nil {
			return fmt.Errorf("deactivate ticker %s: %w", id, err)
		}
		a.log.Info("ticker disabled", logx.String("ticker", id))
		return nil
	}

	a.log.Info("ticker enabled", logx.String("ticker", id))
	a.bus.Publish(eventbus.Event{Type: eventbus.EventTickerSaved, Data: id})
	return nil
}

// Tickers lists the stored tickers.
func (a *App) Tickers(ctx context.Context, f storage.Filter) ([]ticker.Ticker, error) {
	return a.store.ListTickers(ctx, f)
}

// GetTicker fetches one ticker by ID.
func (a *App) GetTicker(ctx context.Context, id string) (ticker.Ticker, bool, error) {
	return a.store.GetTicker(ctx, id)
}

// Regenerate triggers an explicit pass over all tickers.
func (a *App) Regenerate(ctx context.Context, force bool) (regen.Report, error) {
	return a.regen.RegenerateAll(ctx, regen.TriggerForce, force)
}

// Status is a point-in-time view for operators.
type Status struct {
	Regen  regen.Snapshot
	Alarms alarmd.Snapshot
}

func (a *App) Status() Status {
	return Status{
		Regen:  a.regen.Snapshot(),
		Alarms: a.alarms.Snapshot(),
	}
}
