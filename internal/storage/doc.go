// Package storage persists ticker records and small meta flags.
//
// It currently supports:
//   - Ticker CRUD with a predicate filter (enabled-only listing)
//   - Boolean meta flags (e.g. the one-time migration gate)
package storage
