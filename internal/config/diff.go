package config

import "encoding/json"

// Changes flags which config sections differ between two snapshots.
// The app's reload loop uses it to apply only what actually changed
// (storage is deliberately absent: switching backends needs a restart).
type Changes struct {
	Logging bool
	Alarms  bool
	Regen   bool
	Pprof   bool
}

func (c Changes) Any() bool { return c.Logging || c.Alarms || c.Regen || c.Pprof }

// Diff compares two configs section by section. Sections are compared by
// their canonical JSON encoding, which keeps this stable as fields grow.
func Diff(old, new *Config) Changes {
	if old == nil || new == nil {
		return Changes{Logging: true, Alarms: true, Regen: true, Pprof: true}
	}
	return Changes{
		Logging: !jsonEqual(old.Logging, new.Logging),
		Alarms:  !jsonEqual(old.Alarms, new.Alarms),
		Regen:   !jsonEqual(old.Regen, new.Regen),
		Pprof:   !jsonEqual(old.Pprof, new.Pprof),
	}
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
