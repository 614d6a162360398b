// Package strategy decides how many future instants to keep materialized per
// schedule shape, and how often the orchestrator should re-evaluate them.
//
// The horizon is the only admission-control lever over the external
// scheduler's finite capacity: no other component may exceed it.
package strategy

import (
	"time"

	"tickerd/internal/ticker"
)

// Tag names a generation policy. It is cached on the ticker record; editing
// the schedule clears the cache and Select runs again.
type Tag string

const (
	// TagOneShot covers one-time schedules and countdown-only tickers:
	// one registration, never re-triggered after its instant is consumed.
	TagOneShot Tag = "one_shot"
	// TagSparse covers coarse recurrences (daily and slower): a small
	// horizon re-evaluated infrequently.
	TagSparse Tag = "sparse"
	// TagDense covers sub-daily recurrences: a larger horizon with a short
	// re-evaluation interval.
	TagDense Tag = "dense"
)

// Strategy is the concrete policy behind a tag.
type Strategy struct {
	// Horizon is the number of instants kept registered ahead of now,
	// before capacity fair-sharing.
	Horizon int
	// MinInterval rate-limits regeneration: a non-forced pass is skipped
	// when the last one ran more recently than this.
	MinInterval time.Duration
	// Recheck is the nominal spacing used to compute the next scheduled
	// regeneration instant. Zero means "no re-evaluation needed".
	Recheck time.Duration
}

// Select maps a schedule shape to its policy tag. A nil schedule means a
// countdown-only ticker.
func Select(s *ticker.Schedule) Tag {
	if s == nil {
		return TagOneShot
	}
	switch s.Kind {
	case ticker.KindOneTime:
		return TagOneShot
	case ticker.KindHourly:
		return TagDense
	case ticker.KindEvery:
		if s.Unit == ticker.UnitMinutes || s.Unit == ticker.UnitHours {
			return TagDense
		}
		return TagSparse
	default:
		return TagSparse
	}
}

// Params resolves a tag (cached or freshly selected) to its policy.
// Unknown tags fall back to the sparse policy, which is safe on capacity.
func (t Tag) Params() Strategy {
	switch t {
	case TagOneShot:
		return Strategy{Horizon: 1}
	case TagDense:
		return Strategy{Horizon: 12, MinInterval: 30 * time.Minute, Recheck: 2 * time.Hour}
	default:
		return Strategy{Horizon: 4, MinInterval: 6 * time.Hour, Recheck: 24 * time.Hour}
	}
}

// FairHorizon clamps a policy horizon to this ticker's fair share of the
// external scheduler's capacity. The floor is 1 so an active ticker always
// keeps its next instant registered.
func FairHorizon(base, capacity, activeTickers int) int {
	if base < 1 {
		base = 1
	}
	if capacity <= 0 || activeTickers <= 0 {
		return base
	}
	share := capacity / activeTickers
	if share < 1 {
		share = 1
	}
	if base > share {
		return share
	}
	return base
}
