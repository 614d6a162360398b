package alarmd

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tickerd/internal/eventbus"
	logx "tickerd/pkg/logx"
)

type Config struct {
	// Capacity is the hard cap on concurrently registered alarms.
	Capacity int
	// RatePerSec throttles register/cancel churn. <= 0 disables throttling.
	RatePerSec int
}

const defaultCapacity = 64

// Service is the in-process Scheduler implementation.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	limiter *rate.Limiter
	live    map[ID]Registration
	timers  map[ID]*time.Timer
	closed  bool
}

var _ Scheduler = (*Service)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		bus:    bus,
		live:   map[ID]Registration{},
		timers: map[ID]*time.Timer{},
	}
	s.Apply(cfg)
	return s
}

// Apply updates capacity and rate limiting at runtime. Already-registered
// alarms above a lowered capacity keep firing; only new registrations are
// rejected.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	s.cfg = cfg
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		s.limiter = nil
	}
}

// Stop stops all runtime timers. Live registrations are dropped with them;
// the orchestrator re-derives the target set from ListLive on next start.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.live = map[ID]Registration{}
	s.log.Info("alarm scheduler stopped")
}

func (s *Service) wait(ctx context.Context) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (s *Service) Register(ctx context.Context, atInstant time.Time, p Payload) (ID, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrUnavailable
	}
	if len(s.live) >= s.cfg.Capacity {
		return "", ErrCapacity
	}

	id := uuid.NewString()
	reg := Registration{ID: id, At: atInstant, Payload: p}
	s.live[id] = reg

	delay := time.Until(atInstant)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	s.log.Debug("alarm registered",
		logx.String("id", id),
		logx.String("ticker", p.TickerID),
		logx.Time("at", atInstant),
		logx.Int("live", len(s.live)))
	return id, nil
}

func (s *Service) fire(id ID) {
	s.mu.Lock()
	reg, ok := s.live[id]
	if !ok {
		// Cancelled while the callback was in flight.
		s.mu.Unlock()
		return
	}
	delete(s.live, id)
	delete(s.timers, id)
	s.mu.Unlock()

	s.log.Info("alarm fired",
		logx.String("id", id),
		logx.String("ticker", reg.Payload.TickerID),
		logx.String("kind", string(reg.Payload.Kind)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.EventAlarmFired,
			Data: Fired{ID: id, At: reg.At, Payload: reg.Payload},
		})
	}
}

func (s *Service) Cancel(ctx context.Context, id ID) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	delete(s.live, id)
	return nil
}

func (s *Service) ListLive(ctx context.Context) (map[ID]Registration, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ID]Registration, len(s.live))
	for id, r := range s.live {
		out[id] = r
	}
	return out, nil
}

// Snapshot is a point-in-time diagnostic view.
type Snapshot struct {
	Capacity int `json:"capacity"`
	Live     int `json:"live"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Capacity: s.cfg.Capacity, Live: len(s.live)}
}
