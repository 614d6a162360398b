package ticker

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTicker = errors.New("invalid ticker")

// Countdown is a pre-alert lead duration, independent of recurrence.
//
// On a ticker with a schedule, each trigger instant also gets a pre-alert
// registration Lead before it. On a countdown-only ticker the single fire
// instant is CreatedAt+Lead; once that passes the ticker is exhausted.
type Countdown struct {
	Lead time.Duration `json:"lead"`
}

// RegenState is the regeneration bookkeeping attached to a ticker.
//
// It is owned by the regeneration orchestrator: nothing else writes these
// fields. AlarmIDs is a cache of the external scheduler's live handles for
// this ticker; the orchestrator reconciles it against the scheduler's actual
// registrations on every pass, so it tolerates drift.
type RegenState struct {
	AlarmIDs  []string  `json:"alarm_ids,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"` // zero = never regenerated
	LastRunOK bool      `json:"last_run_ok,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
	Strategy  string    `json:"strategy,omitempty"` // cached strategy tag, cleared on schedule edits
}

// SetAlarmIDs stores ids as a sorted, deduplicated set.
func (r *RegenState) SetAlarmIDs(ids []string) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	r.AlarmIDs = out
}

func (r *RegenState) HasAlarmID(id string) bool {
	for _, v := range r.AlarmIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Ticker is a user-declared reminder, recurring or one-time.
//
// The record is the sole owner of its Schedule and of the alarm-ID set.
// The presentation layer reads Enabled/Regen to render health; only the
// orchestrator mutates Regen.
type Ticker struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`

	// Schedule is optional: a ticker may carry only a Countdown.
	Schedule  *Schedule  `json:"schedule,omitempty"`
	Countdown *Countdown `json:"countdown,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Regen RegenState `json:"regen"`
}

func New(label string, s *Schedule, cd *Countdown) Ticker {
	now := time.Now()
	return Ticker{
		ID:        uuid.NewString(),
		Label:     label,
		Enabled:   true,
		Schedule:  s,
		Countdown: cd,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the record invariants (schedule validity included).
func (t *Ticker) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTicker)
	}
	if t.Schedule == nil && t.Countdown == nil {
		return fmt.Errorf("%w: needs a schedule or a countdown", ErrInvalidTicker)
	}
	if t.Schedule != nil {
		if err := t.Schedule.Validate(); err != nil {
			return err
		}
	}
	if t.Countdown != nil && t.Countdown.Lead <= 0 {
		return fmt.Errorf("%w: countdown lead must be > 0", ErrInvalidTicker)
	}
	return nil
}

// Normalize pins write-time defaults. For anchored kinds (biweekly parity,
// every-N-days/weeks cadence) the anchor is set once here and then survives
// edits, so the cadence is stable for the lifetime of the ticker.
func (t *Ticker) Normalize(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Schedule != nil && t.Schedule.anchored() && t.Schedule.Anchor.IsZero() {
		s := *t.Schedule
		s.Anchor = now
		t.Schedule = &s
	}
}

// SetSchedule replaces the schedule value wholesale. Editing invalidates the
// cached strategy and forces a health-check on the next regeneration trigger
// (LastRunAt reset). An anchor carries over from the previous value when the
// replacement is the same kind and doesn't bring its own.
func (t *Ticker) SetSchedule(s *Schedule, now time.Time) {
	if s != nil && s.anchored() && s.Anchor.IsZero() &&
		t.Schedule != nil && t.Schedule.Kind == s.Kind {
		cp := *s
		cp.Anchor = t.Schedule.Anchor
		s = &cp
	}
	t.Schedule = s
	t.UpdatedAt = now
	t.Regen.Strategy = ""
	t.Regen.LastRunAt = time.Time{}
}

// ScheduleChanged reports whether o carries a different schedule value.
func (t *Ticker) ScheduleChanged(o *Schedule) bool {
	if (t.Schedule == nil) != (o == nil) {
		return true
	}
	if t.Schedule == nil {
		return false
	}
	return !t.Schedule.Equal(*o)
}
