// Package recur turns a schedule definition into concrete future instants.
//
// Expand is pure and deterministic: no I/O, no clock reads, no suspension.
// All results are strictly after the reference instant; an occurrence landing
// exactly on it is never re-emitted, so a regeneration pass running at the
// boundary cannot duplicate a firing.
package recur

import (
	"fmt"
	"time"

	"tickerd/internal/ticker"
)

// maxScan bounds day/month/year scan loops so a degenerate schedule can never
// spin forever.
const maxScan = 10000

// Expand returns up to horizon future trigger instants for s, ascending,
// deduplicated, all strictly after now. Wall-clock math happens in now's
// location.
func Expand(s ticker.Schedule, now time.Time, horizon int) ([]time.Time, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if horizon <= 0 {
		return nil, nil
	}

	switch s.Kind {
	case ticker.KindOneTime:
		if s.At.After(now) {
			return []time.Time{s.At}, nil
		}
		// Exhausted: the caller treats this ticker as terminal.
		return nil, nil
	case ticker.KindDaily:
		return expandDaily(s, now, horizon), nil
	case ticker.KindWeekdays:
		return expandWeekdayScan(s, now, horizon, nil), nil
	case ticker.KindBiweekly:
		return expandBiweekly(s, now, horizon), nil
	case ticker.KindHourly:
		return expandHourly(s, now, horizon), nil
	case ticker.KindEvery:
		return expandEvery(s, now, horizon), nil
	case ticker.KindMonthly:
		return expandMonthly(s, now, horizon), nil
	case ticker.KindYearly:
		return expandYearly(s, now, horizon), nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ticker.ErrInvalidSchedule, s.Kind)
	}
}

// Next returns the first future occurrence, or the zero time when the
// schedule is exhausted.
func Next(s ticker.Schedule, now time.Time) (time.Time, error) {
	out, err := Expand(s, now, 1)
	if err != nil || len(out) == 0 {
		return time.Time{}, err
	}
	return out[0], nil
}

// at places a wall-clock time on the day holding d.
func at(d time.Time, tod ticker.TimeOfDay) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, 0, 0, d.Location())
}

// dayOffset returns the day shifted by n calendar days (normalized, DST-safe
// for wall-clock placement).
func dayOffset(d time.Time, n int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day()+n, 0, 0, 0, 0, d.Location())
}

func expandDaily(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	day := now
	if !at(day, s.Time).After(now) {
		day = dayOffset(day, 1)
	}
	out := make([]time.Time, 0, horizon)
	for i := 0; i < horizon; i++ {
		out = append(out, at(dayOffset(day, i), s.Time))
	}
	return out
}

// expandWeekdayScan walks forward day by day emitting s.Time on allowed
// weekdays. accept further filters candidate days (biweekly parity).
func expandWeekdayScan(s ticker.Schedule, now time.Time, horizon int, accept func(day time.Time) bool) []time.Time {
	out := make([]time.Time, 0, horizon)
	day := now
	for i := 0; i < maxScan && len(out) < horizon; i++ {
		d := dayOffset(day, i)
		if !s.Days.Has(d.Weekday()) {
			continue
		}
		t := at(d, s.Time)
		if !t.After(now) {
			continue
		}
		if accept != nil && !accept(d) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// mondayOf truncates to the Monday starting the week holding d.
func mondayOf(d time.Time) time.Time {
	back := (int(d.Weekday()) + 6) % 7
	return dayOffset(d, -back)
}

// dayNumber is the ordinal of d's calendar date. Differences count calendar
// days; a 23h or 25h DST day still counts as one day.
func dayNumber(d time.Time) int {
	return int(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// weekIndex is the number of whole weeks between the weeks holding anchor
// and d. It is stable under any within-week anchor placement.
func weekIndex(d, anchor time.Time) int {
	return (dayNumber(mondayOf(d)) - dayNumber(mondayOf(anchor))) / 7
}

func expandBiweekly(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	anchor := s.Anchor
	if anchor.IsZero() {
		// No pinned baseline: the first matching day establishes parity.
		first := expandWeekdayScan(s, now, 1, nil)
		if len(first) == 0 {
			return nil
		}
		anchor = first[0]
	}
	return expandWeekdayScan(s, now, horizon, func(day time.Time) bool {
		w := weekIndex(day, anchor)
		return w%2 == 0 // weekIndex is non-negative for future days
	})
}

func expandHourly(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	startMin := s.Time.Minutes()
	endMin := 24*60 - 1
	if !s.End.IsZero() {
		endMin = s.End.Minutes()
	}
	step := s.Interval * 60

	out := make([]time.Time, 0, horizon)
	for i := 0; i < maxScan && len(out) < horizon; i++ {
		day := dayOffset(now, i)
		for m := startMin; m <= endMin && len(out) < horizon; m += step {
			t := at(day, ticker.TimeOfDay{Hour: m / 60, Minute: m % 60})
			if t.After(now) {
				out = append(out, t)
			}
		}
	}
	return out
}

func expandEvery(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	switch s.Unit {
	case ticker.UnitMinutes, ticker.UnitHours:
		step := time.Duration(s.Interval) * time.Minute
		if s.Unit == ticker.UnitHours {
			step = time.Duration(s.Interval) * time.Hour
		}
		// Anchor at today's wall-clock start, then step until strictly after now.
		cur := at(now, s.Time)
		if cur.Before(now) {
			elapsed := now.Sub(cur)
			cur = cur.Add((elapsed/step + 1) * step)
		} else if cur.Equal(now) {
			cur = cur.Add(step)
		}
		out := make([]time.Time, 0, horizon)
		for i := 0; i < horizon; i++ {
			out = append(out, cur)
			cur = cur.Add(step)
		}
		return out
	case ticker.UnitDays, ticker.UnitWeeks:
		stepDays := s.Interval
		if s.Unit == ticker.UnitWeeks {
			stepDays = s.Interval * 7
		}
		// The cadence baseline is the pinned anchor's calendar date: every
		// occurrence sits on anchor-day + k*step, so a pass running mid-cycle
		// (or right after a firing) re-derives the same sequence instead of
		// restarting it from today.
		base := now
		if !s.Anchor.IsZero() {
			base = time.Date(s.Anchor.Year(), s.Anchor.Month(), s.Anchor.Day(), 0, 0, 0, 0, now.Location())
		}
		k := 0
		if elapsed := dayNumber(now) - dayNumber(base); elapsed > 0 {
			k = elapsed / stepDays
		}
		out := make([]time.Time, 0, horizon)
		for i := 0; i < maxScan && len(out) < horizon; i++ {
			t := at(dayOffset(base, (k+i)*stepDays), s.Time)
			if t.After(now) {
				out = append(out, t)
			}
		}
		return out
	}
	return nil
}

// resolveMonthly maps the monthly rule onto a concrete day of the given
// month. Fixed days clamp to the month's last day rather than skipping the
// month (deliberate policy, not truncation).
func resolveMonthly(m ticker.MonthlyDay, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	switch m.Rule {
	case ticker.MonthlyFixedDay:
		if m.Day > last {
			return last
		}
		return m.Day
	case ticker.MonthlyFirstOfMon:
		return 1
	case ticker.MonthlyLastOfMonth:
		return last
	case ticker.MonthlyFirstOf:
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		off := (int(m.Weekday) - int(first.Weekday()) + 7) % 7
		return 1 + off
	case ticker.MonthlyLastOf:
		end := time.Date(year, month, last, 0, 0, 0, 0, time.UTC)
		off := (int(end.Weekday()) - int(m.Weekday) + 7) % 7
		return last - off
	}
	return 0
}

func expandMonthly(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	out := make([]time.Time, 0, horizon)
	year, month := now.Year(), now.Month()
	for i := 0; i < maxScan && len(out) < horizon; i++ {
		// time.Date normalizes month overflow into the next year.
		ref := time.Date(year, month+time.Month(i), 1, 0, 0, 0, 0, now.Location())
		day := resolveMonthly(s.Monthly, ref.Year(), ref.Month())
		if day == 0 {
			continue
		}
		t := time.Date(ref.Year(), ref.Month(), day, s.Time.Hour, s.Time.Minute, 0, 0, now.Location())
		if t.After(now) {
			out = append(out, t)
		}
	}
	return out
}

func expandYearly(s ticker.Schedule, now time.Time, horizon int) []time.Time {
	out := make([]time.Time, 0, horizon)
	for i := 0; i < maxScan && len(out) < horizon; i++ {
		year := now.Year() + i
		day := s.Day
		// Feb 29 clamps to Feb 28 on non-leap years (policy, not truncation).
		if last := time.Date(year, time.Month(s.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
			day = last
		}
		t := time.Date(year, time.Month(s.Month), day, s.Time.Hour, s.Time.Minute, 0, 0, now.Location())
		if t.After(now) {
			out = append(out, t)
		}
	}
	return out
}
