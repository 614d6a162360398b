package alarmd

import (
	"context"
	"errors"
	"time"
)

// ID is an external alarm handle. Handles are unique for the lifetime of the
// process and never reused.
type ID = string

var (
	// ErrCapacity is returned when the scheduler cannot hold another
	// registration. It is recoverable per-instant: the orchestrator keeps
	// the successfully registered subset and retries on the next trigger.
	ErrCapacity = errors.New("alarm scheduler capacity exceeded")

	// ErrUnavailable is a transient scheduler failure; the affected ticker
	// is retried on the next trigger.
	ErrUnavailable = errors.New("alarm scheduler unavailable")
)

// PayloadKind distinguishes a trigger alarm from its pre-alert.
type PayloadKind string

const (
	KindTrigger  PayloadKind = "trigger"
	KindPrealert PayloadKind = "prealert"
)

// Payload rides along with a registration and comes back on fire events.
type Payload struct {
	TickerID string      `json:"ticker_id"`
	Label    string      `json:"label,omitempty"`
	Kind     PayloadKind `json:"kind"`
}

// Registration is one live alarm.
type Registration struct {
	ID      ID        `json:"id"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Fired is the eventbus payload published when an alarm goes off.
type Fired struct {
	ID      ID        `json:"id"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Scheduler is the consumed alarm-scheduling service.
type Scheduler interface {
	// Register adds an alarm for the given instant. Returns ErrCapacity
	// when the scheduler is full.
	Register(ctx context.Context, at time.Time, p Payload) (ID, error)
	// Cancel removes a registration. Cancelling an unknown ID is a no-op.
	Cancel(ctx context.Context, id ID) error
	// ListLive returns every currently registered alarm.
	ListLive(ctx context.Context) (map[ID]Registration, error)
}
