package ticker

import (
	"testing"
	"time"
)

func TestTickerValidate(t *testing.T) {
	t.Parallel()
	s := Daily(TimeOfDay{Hour: 7})
	good := New("water the plants", &s, nil)
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	bare := New("nothing to do", nil, nil)
	if err := bare.Validate(); err == nil {
		t.Fatal("ticker without schedule or countdown accepted")
	}

	cd := New("tea", nil, &Countdown{Lead: 3 * time.Minute})
	if err := cd.Validate(); err != nil {
		t.Fatalf("countdown-only Validate() = %v", err)
	}

	cd.Countdown = &Countdown{}
	if err := cd.Validate(); err == nil {
		t.Fatal("zero countdown lead accepted")
	}
}

func TestNormalizePinsBiweeklyAnchor(t *testing.T) {
	t.Parallel()
	s := Biweekly(TimeOfDay{Hour: 9}, Days(time.Monday))
	tk := New("standup", &s, nil)

	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	tk.Normalize(now)
	if !tk.Schedule.Anchor.Equal(now) {
		t.Fatalf("anchor = %v, want %v", tk.Schedule.Anchor, now)
	}

	// Normalize again later: the pinned anchor must not move.
	tk.Normalize(now.Add(48 * time.Hour))
	if !tk.Schedule.Anchor.Equal(now) {
		t.Fatalf("anchor moved to %v", tk.Schedule.Anchor)
	}
}

func TestNormalizePinsEveryCadenceAnchor(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	every := Every(3, UnitDays, TimeOfDay{Hour: 7})
	tk := New("take out the bins", &every, nil)
	tk.Normalize(now)
	if !tk.Schedule.Anchor.Equal(now) {
		t.Fatalf("anchor = %v, want %v", tk.Schedule.Anchor, now)
	}

	// Sub-daily steps are anchored at the wall-clock start, not a date.
	minutes := Every(45, UnitMinutes, TimeOfDay{Hour: 8})
	tk2 := New("stretch", &minutes, nil)
	tk2.Normalize(now)
	if !tk2.Schedule.Anchor.IsZero() {
		t.Fatalf("minute schedule got anchor %v", tk2.Schedule.Anchor)
	}
}

func TestSetScheduleCarriesAnchor(t *testing.T) {
	t.Parallel()
	orig := Biweekly(TimeOfDay{Hour: 9}, Days(time.Monday))
	tk := New("standup", &orig, nil)
	pin := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tk.Normalize(pin)

	tk.Regen.Strategy = "sparse"
	tk.Regen.LastRunAt = pin

	// Day-set edit: same kind, no anchor of its own.
	edit := Biweekly(TimeOfDay{Hour: 9}, Days(time.Monday, time.Thursday))
	tk.SetSchedule(&edit, pin.Add(time.Hour))

	if !tk.Schedule.Anchor.Equal(pin) {
		t.Fatalf("anchor = %v, want carried-over %v", tk.Schedule.Anchor, pin)
	}
	if tk.Regen.Strategy != "" {
		t.Fatal("cached strategy survived a schedule edit")
	}
	if !tk.Regen.LastRunAt.IsZero() {
		t.Fatal("LastRunAt not reset by a schedule edit")
	}

	// Kind change: no anchor to carry.
	daily := Daily(TimeOfDay{Hour: 7})
	tk.SetSchedule(&daily, pin.Add(2*time.Hour))
	if !tk.Schedule.Anchor.IsZero() {
		t.Fatalf("daily schedule got anchor %v", tk.Schedule.Anchor)
	}
}

func TestSetScheduleCarriesEveryAnchor(t *testing.T) {
	t.Parallel()
	orig := Every(3, UnitDays, TimeOfDay{Hour: 7})
	tk := New("water", &orig, nil)
	pin := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	tk.Normalize(pin)

	// Interval edit keeps the cadence baseline.
	edit := Every(5, UnitDays, TimeOfDay{Hour: 7})
	tk.SetSchedule(&edit, pin.Add(time.Hour))
	if !tk.Schedule.Anchor.Equal(pin) {
		t.Fatalf("anchor = %v, want carried-over %v", tk.Schedule.Anchor, pin)
	}
}

func TestSetAlarmIDs(t *testing.T) {
	t.Parallel()
	var r RegenState
	r.SetAlarmIDs([]string{"c", "a", "c", "", "b"})
	want := []string{"a", "b", "c"}
	if len(r.AlarmIDs) != len(want) {
		t.Fatalf("AlarmIDs = %v", r.AlarmIDs)
	}
	for i := range want {
		if r.AlarmIDs[i] != want[i] {
			t.Fatalf("AlarmIDs = %v, want %v", r.AlarmIDs, want)
		}
	}
	if !r.HasAlarmID("b") || r.HasAlarmID("z") {
		t.Fatal("HasAlarmID membership wrong")
	}
}

func TestScheduleChanged(t *testing.T) {
	t.Parallel()
	s := Daily(TimeOfDay{Hour: 7})
	tk := New("x", &s, nil)

	same := Daily(TimeOfDay{Hour: 7})
	if tk.ScheduleChanged(&same) {
		t.Fatal("identical schedule reported changed")
	}
	other := Daily(TimeOfDay{Hour: 8})
	if !tk.ScheduleChanged(&other) {
		t.Fatal("time edit not reported")
	}
	if !tk.ScheduleChanged(nil) {
		t.Fatal("schedule removal not reported")
	}
}
