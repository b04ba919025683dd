package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Resolved holds the typed values behind the string fields of Config, with
// defaults applied.
type Resolved struct {
	Location        *time.Location
	RefreshInterval time.Duration
	MaxLateness     time.Duration
	UpcomingLimit   int
	HistorySize     int
	RepeatInterval  time.Duration
	StopGrace       time.Duration
	BusyTimeout     time.Duration
	Volume          int
}

// Resolve parses durations and the timezone and applies defaults.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var (
		r   Resolved
		err error
	)
	if r.Location, err = cfg.Scheduler.Location(); err != nil {
		return Resolved{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", cfg.Scheduler.Timezone, err)
	}
	for _, d := range []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"scheduler.refresh_interval", cfg.Scheduler.RefreshInterval, DefaultRefreshInterval, &r.RefreshInterval},
		{"scheduler.max_lateness", cfg.Scheduler.MaxLateness, DefaultMaxLateness, &r.MaxLateness},
		{"audio.repeat_interval", cfg.Audio.RepeatInterval, DefaultRepeatInterval, &r.RepeatInterval},
		{"audio.stop_grace", cfg.Audio.StopGrace, DefaultStopGrace, &r.StopGrace},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, 0, &r.BusyTimeout},
	} {
		if *d.dst, err = parseDuration(d.path, d.raw, d.def); err != nil {
			return Resolved{}, err
		}
	}

	switch {
	case cfg.Scheduler.UpcomingLimit < 0:
		return Resolved{}, fmt.Errorf("scheduler.upcoming_limit must be >= 0")
	case cfg.Scheduler.HistorySize < 0:
		return Resolved{}, fmt.Errorf("scheduler.history_size must be >= 0")
	case cfg.Storage.MaxLogEntries < 0:
		return Resolved{}, fmt.Errorf("storage.max_log_entries must be >= 0")
	}
	r.Volume = DefaultVolume
	if v := cfg.Audio.Volume; v != nil {
		if *v < 0 || *v > 100 {
			return Resolved{}, fmt.Errorf("audio.volume must be within 0..100, got %d", *v)
		}
		r.Volume = *v
	}
	r.UpcomingLimit = cfg.Scheduler.UpcomingLimit
	if r.UpcomingLimit == 0 {
		r.UpcomingLimit = DefaultUpcomingLimit
	}
	r.HistorySize = cfg.Scheduler.HistorySize
	if r.HistorySize == 0 {
		r.HistorySize = DefaultHistorySize
	}
	return r, nil
}

// parseDuration accepts Go durations ("90s", "1m30s") and bare seconds ("90").
// Empty or zero values yield def.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Validate rejects configs the daemon cannot run with.
func Validate(cfg *Config) error {
	if _, err := Resolve(cfg); err != nil {
		return err
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "json":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", d)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: want console or json, got %q", cfg.Logging.Format)
	}
	if len(cfg.Audio.Command) > 0 && strings.TrimSpace(cfg.Audio.Command[0]) == "" {
		return fmt.Errorf("audio.command: program must not be empty")
	}
	for _, ext := range cfg.Audio.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("audio.extensions: %q must start with a dot", ext)
		}
	}
	return nil
}
