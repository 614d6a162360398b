package regen

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickerd/internal/alarmd"
	"tickerd/internal/eventbus"
	"tickerd/internal/storage"
	logx "tickerd/pkg/logx"
)

// Service is the regeneration orchestrator. It is the single owner of every
// ticker's regeneration bookkeeping: runMu serializes passes, so two
// concurrent triggers for the same ticker can never race on its alarm-ID
// set.
type Service struct {
	mu  sync.Mutex // guards cfg, loc, cron, lastReport
	cfg Config
	loc *time.Location

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	sched alarmd.Scheduler

	c     *cron.Cron
	unsub func()

	// runMu is the pass-level critical section (steps expand..persist).
	runMu sync.Mutex

	lastReport *Report
}

func New(cfg Config, store storage.Store, sched alarmd.Scheduler, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		store: store,
		sched: sched,
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	oldTick := s.cfg.Tick
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ || oldTick != cfg.Tick {
		// Restart the periodic trigger with the new location/interval.
		s.restartCronLocked(context.Background())
	}
}

// Start begins periodic triggering and subscribes to edit/alarm events.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	s.loc = s.loadLocationLocked()
	s.startCronLocked(ctx)
	loc := s.loc
	tick := s.cfg.Tick
	s.mu.Unlock()

	ch, unsub := s.bus.Subscribe(32)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	go s.eventLoop(ctx, ch)

	s.log.Info("regeneration service started",
		logx.String("tz", loc.String()),
		logx.Duration("tick", tick))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("regeneration service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
		Tick:     s.cfg.Tick,
		Capacity: s.cfg.Capacity,
	}
	if s.lastReport != nil {
		cp := *s.lastReport
		snap.LastReport = &cp
	}
	return snap
}

func (s *Service) startCronLocked(ctx context.Context) {
	tick := s.cfg.Tick
	if tick <= 0 {
		tick = 15 * time.Minute
	}
	s.cfg.Tick = tick

	c := cron.New(cron.WithLocation(s.loc))
	_, _ = c.AddFunc("@every "+tick.String(), func() {
		if _, err := s.RegenerateAll(ctx, TriggerTick, false); err != nil {
			s.log.Warn("periodic regeneration failed", logx.Err(err))
		}
	})
	c.Start()
	s.c = c
}

func (s *Service) restartCronLocked(ctx context.Context) {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.loc = s.loadLocationLocked()
	s.startCronLocked(ctx)
	s.log.Info("periodic trigger restarted",
		logx.String("tz", s.loc.String()),
		logx.Duration("tick", s.cfg.Tick))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location returns the timezone every expansion and write-time default uses.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// eventLoop reacts to edits (forced single-ticker pass) and to alarm firings
// (replenish the fired ticker's horizon, regular rate limiting applies).
func (s *Service) eventLoop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.EventTickerSaved:
				id, _ := e.Data.(string)
				if id == "" {
					continue
				}
				if _, err := s.RegenerateTicker(ctx, id, TriggerEdit, true); err != nil {
					s.log.Warn("edit-triggered regeneration failed", logx.String("ticker", id), logx.Err(err))
				}
			case eventbus.EventAlarmFired:
				f, ok := e.Data.(alarmd.Fired)
				if !ok || f.Payload.Kind != alarmd.KindTrigger {
					continue
				}
				if _, err := s.RegenerateTicker(ctx, f.Payload.TickerID, TriggerAlarm, false); err != nil {
					s.log.Warn("alarm-triggered regeneration failed", logx.String("ticker", f.Payload.TickerID), logx.Err(err))
				}
			}
		}
	}
}
