package config

import (
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Audio     AudioConfig     `json:"audio"`
	Storage   StorageConfig   `json:"storage"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the bell triggers.
//
// Enabled is a pointer so an omitted key can default to true while an
// explicit false still parks the triggers.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - timezone: host local time
//   - refresh_interval: "60s"
//   - upcoming_limit: 10
//   - max_lateness: "60s"
//   - history_size: 50
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Timezone is an IANA name (e.g. "America/New_York").
	Timezone string `json:"timezone,omitempty"`

	// RefreshInterval is a Go duration string for the upcoming-events cache.
	RefreshInterval string `json:"refresh_interval,omitempty"`
	UpcomingLimit   int    `json:"upcoming_limit,omitempty"`

	// MaxLateness skips a bell whose trigger runs this long after its slot
	// (host suspend, clock jumps). "0s" keeps the default.
	MaxLateness string `json:"max_lateness,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AudioConfig controls playback.
//
// Command is an argv template; "{file}" is replaced by the resolved path and
// the path is appended when no placeholder is present. An empty command uses
// the platform player. "{volume}" (0..100), "{gain}" (0.00..1.00) and
// "{pa_volume}" (0..65536) carry the configured volume.
type AudioConfig struct {
	Dir            string   `json:"dir"`
	Command        []string `json:"command,omitempty"`
	RepeatInterval string   `json:"repeat_interval,omitempty"` // default "3s"
	StopGrace      string   `json:"stop_grace,omitempty"`      // default "1s"
	Extensions     []string `json:"extensions,omitempty"`
	Volume         *int     `json:"volume,omitempty"` // percent, default 80, applies live
}

// StorageConfig controls the schedule store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./schoolbell.db, busy_timeout: 5s }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxLogEntries int    `json:"max_log_entries,omitempty"`

	// Watch reloads the triggers when the store is edited by another
	// process (the CLI, a text editor). File driver only.
	Watch bool `json:"watch,omitempty"`
}

// SystemdConfig controls sd_notify integration. Both flags are no-ops when
// the process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// Defaults applied by the accessors below.
const (
	DefaultRefreshInterval = time.Minute
	DefaultUpcomingLimit   = 10
	DefaultMaxLateness     = time.Minute
	DefaultHistorySize     = 50
	DefaultRepeatInterval  = 3 * time.Second
	DefaultStopGrace       = time.Second
	DefaultVolume          = 80
	DefaultStoragePath     = "./schoolbell.json"
)

// Location resolves the scheduler timezone; empty means time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
