package regen

import (
	"time"
)

// Config controls the regeneration service.
type Config struct {
	Enabled bool

	// Tick is the periodic trigger interval.
	Tick time.Duration

	// Timezone for wall-clock expansion. IANA TZ, e.g. "Europe/Berlin".
	Timezone string

	// Capacity mirrors the alarm scheduler's hard cap; it feeds the
	// fair-share horizon clamp.
	Capacity int

	// ForceOnStart bypasses per-ticker rate limiting on the startup pass.
	ForceOnStart bool
}

// Trigger names what caused a regeneration pass.
type Trigger string

const (
	TriggerStartup   Trigger = "startup"
	TriggerTick      Trigger = "tick"
	TriggerEdit      Trigger = "edit"
	TriggerAlarm     Trigger = "alarm"
	TriggerForce     Trigger = "force"
	TriggerMigration Trigger = "migration"
)

// Result is the outcome for a single ticker within a pass. Trigger is filled
// on single-ticker passes; within a batch the Report carries it instead.
type Result struct {
	TickerID string  `json:"ticker_id"`
	Label    string  `json:"label,omitempty"`
	Trigger  Trigger `json:"trigger,omitempty"`

	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	Registered int `json:"registered,omitempty"`
	Cancelled  int `json:"cancelled,omitempty"`
	Live       int `json:"live,omitempty"` // registrations held after the pass

	// Exhausted marks a one-shot ticker whose single instant has been
	// consumed or passed; it has been disabled and surfaced as terminal.
	Exhausted bool `json:"exhausted,omitempty"`

	Err string `json:"err,omitempty"`
}

func (r Result) OK() bool { return r.Err == "" }

// Report aggregates one pass over a batch of tickers. Failures are collected
// here and never swallowed: failed tickers stay visible and are retried on
// the next trigger.
type Report struct {
	Trigger Trigger       `json:"trigger"`
	Forced  bool          `json:"forced,omitempty"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`

	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	Results []Result `json:"results,omitempty"`
}

// Snapshot is a point-in-time diagnostic view of the service.
type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Timezone string        `json:"timezone,omitempty"`
	Tick     time.Duration `json:"tick"`
	Capacity int           `json:"capacity"`

	LastReport *Report `json:"last_report,omitempty"`
}
