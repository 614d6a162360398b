package ticker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSchedule is wrapped by every schedule validation failure.
// Malformed schedules are rejected at write time and never persisted.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Kind discriminates the Schedule variant.
type Kind string

const (
	KindOneTime  Kind = "one_time"
	KindDaily    Kind = "daily"
	KindWeekdays Kind = "weekdays"
	KindHourly   Kind = "hourly"
	KindEvery    Kind = "every"
	KindBiweekly Kind = "biweekly"
	KindMonthly  Kind = "monthly"
	KindYearly   Kind = "yearly"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) IsZero() bool { return t.Hour == 0 && t.Minute == 0 }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t, nil
}

// WeekdaySet is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdaySet uint8

func Days(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Count() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

func (s WeekdaySet) String() string {
	var parts []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			parts = append(parts, d.String()[:3])
		}
	}
	return strings.Join(parts, ",")
}

// TimeUnit is the step unit of an "every" schedule.
type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
)

func (u TimeUnit) valid() bool {
	switch u {
	case UnitMinutes, UnitHours, UnitDays, UnitWeeks:
		return true
	}
	return false
}

// MonthlyRule discriminates how a monthly schedule picks its day.
type MonthlyRule string

const (
	MonthlyFixedDay    MonthlyRule = "day"           // fixed day-of-month, clamped to short months
	MonthlyFirstOf     MonthlyRule = "first_weekday" // first occurrence of Weekday in the month
	MonthlyLastOf      MonthlyRule = "last_weekday"  // last occurrence of Weekday in the month
	MonthlyFirstOfMon  MonthlyRule = "first_day"     // first day of the month
	MonthlyLastOfMonth MonthlyRule = "last_day"      // last day of the month
)

// MonthlyDay resolves to a concrete day for each candidate month.
type MonthlyDay struct {
	Rule    MonthlyRule  `json:"rule"`
	Day     int          `json:"day,omitempty"`     // MonthlyFixedDay: 1..31
	Weekday time.Weekday `json:"weekday,omitempty"` // MonthlyFirstOf / MonthlyLastOf
}

func (m MonthlyDay) validate() error {
	switch m.Rule {
	case MonthlyFixedDay:
		if m.Day < 1 || m.Day > 31 {
			return fmt.Errorf("%w: monthly day %d out of range 1..31", ErrInvalidSchedule, m.Day)
		}
	case MonthlyFirstOf, MonthlyLastOf:
		if m.Weekday < time.Sunday || m.Weekday > time.Saturday {
			return fmt.Errorf("%w: monthly weekday %d out of range", ErrInvalidSchedule, m.Weekday)
		}
	case MonthlyFirstOfMon, MonthlyLastOfMonth:
	default:
		return fmt.Errorf("%w: unknown monthly rule %q", ErrInvalidSchedule, m.Rule)
	}
	return nil
}

func (m MonthlyDay) String() string {
	switch m.Rule {
	case MonthlyFixedDay:
		return fmt.Sprintf("day %d", m.Day)
	case MonthlyFirstOf:
		return "first " + m.Weekday.String()
	case MonthlyLastOf:
		return "last " + m.Weekday.String()
	case MonthlyFirstOfMon:
		return "first day"
	case MonthlyLastOfMonth:
		return "last day"
	}
	return string(m.Rule)
}

// Schedule is the closed recurrence-rule variant attached to a Ticker.
//
// Only the fields relevant to Kind are meaningful; Validate enforces the
// per-variant invariants. Edits replace the whole value (see Ticker.SetSchedule),
// so "schedule changed" is plain value inequality via Equal.
type Schedule struct {
	Kind Kind `json:"kind"`

	// KindOneTime.
	At time.Time `json:"at,omitempty"`

	// Wall-clock trigger time for all recurring kinds.
	// For KindEvery with minute/hour units it is the day's step anchor.
	Time TimeOfDay `json:"time"`

	// KindWeekdays, KindBiweekly.
	Days WeekdaySet `json:"days,omitempty"`

	// KindHourly, KindEvery.
	Interval int      `json:"interval,omitempty"`
	Unit     TimeUnit `json:"unit,omitempty"`

	// KindHourly: optional end-of-window bound. Zero value means "until end of day".
	End TimeOfDay `json:"end"`

	// Cadence baseline, pinned at write time (Ticker.Normalize) and kept
	// across edits so the cadence never drifts. KindBiweekly reads it as the
	// week-parity baseline; KindEvery with day/week units steps from its
	// calendar date.
	Anchor time.Time `json:"anchor,omitempty"`

	// KindMonthly.
	Monthly MonthlyDay `json:"monthly,omitempty"`

	// KindYearly.
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// Constructors. These produce un-validated values; callers run Validate at write time.

func OneTime(at time.Time) Schedule { return Schedule{Kind: KindOneTime, At: at} }

func Daily(at TimeOfDay) Schedule { return Schedule{Kind: KindDaily, Time: at} }

func Weekdays(at TimeOfDay, days WeekdaySet) Schedule {
	return Schedule{Kind: KindWeekdays, Time: at, Days: days}
}

func Hourly(interval int, start, end TimeOfDay) Schedule {
	return Schedule{Kind: KindHourly, Interval: interval, Time: start, End: end}
}

func Every(interval int, unit TimeUnit, at TimeOfDay) Schedule {
	return Schedule{Kind: KindEvery, Interval: interval, Unit: unit, Time: at}
}

func Biweekly(at TimeOfDay, days WeekdaySet) Schedule {
	return Schedule{Kind: KindBiweekly, Time: at, Days: days}
}

func Monthly(day MonthlyDay, at TimeOfDay) Schedule {
	return Schedule{Kind: KindMonthly, Monthly: day, Time: at}
}

func Yearly(month, day int, at TimeOfDay) Schedule {
	return Schedule{Kind: KindYearly, Month: month, Day: day, Time: at}
}

// Validate checks the per-variant invariants. The kind switch is exhaustive;
// an unknown kind is an error, never a silent fallthrough.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindOneTime:
		if s.At.IsZero() {
			return fmt.Errorf("%w: one-time schedule without an instant", ErrInvalidSchedule)
		}
		return nil
	case KindDaily:
		return s.validTime()
	case KindWeekdays, KindBiweekly:
		if err := s.validTime(); err != nil {
			return err
		}
		if s.Days.Count() == 0 {
			return fmt.Errorf("%w: %s schedule with empty weekday set", ErrInvalidSchedule, s.Kind)
		}
		return nil
	case KindHourly:
		if err := s.validTime(); err != nil {
			return err
		}
		if s.Interval < 1 {
			return fmt.Errorf("%w: hourly interval %d, must be >= 1", ErrInvalidSchedule, s.Interval)
		}
		if !s.End.IsZero() {
			if !s.End.Valid() {
				return fmt.Errorf("%w: hourly end %s", ErrInvalidSchedule, s.End)
			}
			if s.End.Minutes() < s.Time.Minutes() {
				return fmt.Errorf("%w: hourly end %s before start %s", ErrInvalidSchedule, s.End, s.Time)
			}
		}
		return nil
	case KindEvery:
		if err := s.validTime(); err != nil {
			return err
		}
		if s.Interval < 1 {
			return fmt.Errorf("%w: every interval %d, must be >= 1", ErrInvalidSchedule, s.Interval)
		}
		if !s.Unit.valid() {
			return fmt.Errorf("%w: unknown unit %q", ErrInvalidSchedule, s.Unit)
		}
		return nil
	case KindMonthly:
		if err := s.validTime(); err != nil {
			return err
		}
		return s.Monthly.validate()
	case KindYearly:
		if err := s.validTime(); err != nil {
			return err
		}
		if s.Month < 1 || s.Month > 12 {
			return fmt.Errorf("%w: yearly month %d out of range 1..12", ErrInvalidSchedule, s.Month)
		}
		maxDay := daysInMonth(2024, time.Month(s.Month)) // leap year: Feb 29 is allowed
		if s.Day < 1 || s.Day > maxDay {
			return fmt.Errorf("%w: yearly day %d out of range for month %d", ErrInvalidSchedule, s.Day, s.Month)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

func (s Schedule) validTime() error {
	if !s.Time.Valid() {
		return fmt.Errorf("%w: time %s", ErrInvalidSchedule, s.Time)
	}
	return nil
}

// anchored reports whether this kind steps from a pinned Anchor.
func (s Schedule) anchored() bool {
	switch s.Kind {
	case KindBiweekly:
		return true
	case KindEvery:
		return s.Unit == UnitDays || s.Unit == UnitWeeks
	}
	return false
}

// Equal reports value equality. Instants are compared with time.Time.Equal so
// location representation differences don't count as an edit.
func (s Schedule) Equal(o Schedule) bool {
	if s.Kind != o.Kind || s.Time != o.Time || s.Days != o.Days ||
		s.Interval != o.Interval || s.Unit != o.Unit || s.End != o.End ||
		s.Monthly != o.Monthly || s.Month != o.Month || s.Day != o.Day {
		return false
	}
	return s.At.Equal(o.At) && s.Anchor.Equal(o.Anchor)
}

func (s Schedule) String() string {
	switch s.Kind {
	case KindOneTime:
		return "once at " + s.At.Format("2006-01-02 15:04")
	case KindDaily:
		return "daily at " + s.Time.String()
	case KindWeekdays:
		return fmt.Sprintf("on %s at %s", s.Days, s.Time)
	case KindHourly:
		if s.End.IsZero() {
			return fmt.Sprintf("every %dh from %s", s.Interval, s.Time)
		}
		return fmt.Sprintf("every %dh from %s until %s", s.Interval, s.Time, s.End)
	case KindEvery:
		return fmt.Sprintf("every %d %s at %s", s.Interval, s.Unit, s.Time)
	case KindBiweekly:
		return fmt.Sprintf("biweekly on %s at %s", s.Days, s.Time)
	case KindMonthly:
		return fmt.Sprintf("monthly (%s) at %s", s.Monthly, s.Time)
	case KindYearly:
		return fmt.Sprintf("yearly %s %d at %s", time.Month(s.Month), s.Day, s.Time)
	}
	return string(s.Kind)
}

func daysInMonth(year int, m time.Month) int {
	// Day 0 of the next month normalizes to the last day of m.
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
