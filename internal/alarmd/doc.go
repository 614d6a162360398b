// Package alarmd is the boundary to the capacity-limited alarm scheduler.
//
// The Scheduler interface is what the rest of the system programs against:
// register/cancel/list with a hard cap on concurrently registered alarms.
// The orchestrator treats the scheduler's ListLive as the source of truth for
// what is actually registered; its own bookkeeping is a cache that must
// tolerate drift.
//
// Service is an in-process implementation standing in for the OS alarm
// facility: timer-driven firing, a configurable capacity cap, and a rate
// limit on register/cancel churn.
package alarmd
