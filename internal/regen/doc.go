// Package regen keeps every ticker's future alarm registrations in step with
// its schedule.
//
// On each trigger (startup, periodic tick, edits, alarm firings, explicit
// force) the service expands due schedules into target instants, diffs the
// targets against the alarm scheduler's actual live registrations, cancels
// stale ones and registers missing ones, then persists the bookkeeping. The
// scheduler is the source of truth for what is live; the per-ticker alarm-ID
// set is a cache that self-heals on every pass.
//
// Tickers are processed independently: one ticker's failure never prevents
// another's regeneration, and partially failed passes are retried on the
// next trigger.
package regen
