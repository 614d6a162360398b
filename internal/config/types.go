package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is required: ticker records and the migration flag live here.
	Storage StorageConfig `json:"storage"`

	// Alarms configures the alarm scheduler boundary (capacity cap and
	// register/cancel throttling).
	Alarms AlarmsConfig `json:"alarms"`

	// Regen controls the regeneration orchestrator.
	Regen RegenConfig `json:"regen"`

	Pprof *PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tickerd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlarmsConfig controls the alarm-scheduler boundary.
//
// Capacity is the hard cap on concurrently registered alarms; it also feeds
// the orchestrator's fair-share horizon clamp.
type AlarmsConfig struct {
	Capacity   int `json:"capacity"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RegenConfig controls the regeneration orchestrator.
//
// All durations are Go duration strings (e.g. "5m", "1h").
type RegenConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the periodic trigger interval. Default: "15m".
	Tick string `json:"tick,omitempty"`

	// Timezone for wall-clock expansion. IANA TZ, e.g. "Europe/Berlin".
	Timezone string `json:"timezone,omitempty"`

	// ForceOnStart bypasses per-ticker rate limiting on the startup pass.
	ForceOnStart bool `json:"force_on_start,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
}
