package config

import (
	"slices"
	"sort"
	"strings"

	logx "schoolbell/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{"storage": true, "systemd": true}

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) structured attrs for logging the new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.String("logx.format", newCfg.Logging.Format),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if oSch.IsEnabled() != nSch.IsEnabled() ||
		strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) ||
		strings.TrimSpace(oSch.RefreshInterval) != strings.TrimSpace(nSch.RefreshInterval) ||
		strings.TrimSpace(oSch.MaxLateness) != strings.TrimSpace(nSch.MaxLateness) ||
		oSch.UpcomingLimit != nSch.UpcomingLimit ||
		oSch.HistorySize != nSch.HistorySize {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", nSch.IsEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
			logx.Bool("scheduler.timezone_changed", strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone)),
		)
	}

	oa, na := oldCfg.Audio, newCfg.Audio
	if strings.TrimSpace(oa.Dir) != strings.TrimSpace(na.Dir) ||
		!slices.Equal(oa.Command, na.Command) ||
		!slices.Equal(oa.Extensions, na.Extensions) ||
		strings.TrimSpace(oa.RepeatInterval) != strings.TrimSpace(na.RepeatInterval) ||
		strings.TrimSpace(oa.StopGrace) != strings.TrimSpace(na.StopGrace) ||
		volumeOf(oa) != volumeOf(na) {
		changed = append(changed, "audio")
		attrs = append(attrs,
			logx.String("audio.dir", strings.TrimSpace(na.Dir)),
			logx.Int("audio.volume", volumeOf(na)),
			logx.String("audio.repeat_interval", strings.TrimSpace(na.RepeatInterval)),
			logx.Bool("audio.command_changed", !slices.Equal(oa.Command, na.Command)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.watch", newCfg.Storage.Watch),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func volumeOf(a AudioConfig) int {
	if a.Volume == nil {
		return DefaultVolume
	}
	return *a.Volume
}

// NeedsRestart reports whether a change can only be picked up by restarting.
// Logging, audio.repeat_interval, audio.volume and scheduler.enabled apply live.
func NeedsRestart(oldCfg, newCfg *Config, sections []string) bool {
	for _, s := range sections {
		if restartSections[s] {
			return true
		}
	}
	if oldCfg == nil || newCfg == nil {
		return false
	}
	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	oSch.Enabled, nSch.Enabled = nil, nil
	if oSch != nSch {
		return true
	}
	oa, na := oldCfg.Audio, newCfg.Audio
	return strings.TrimSpace(oa.Dir) != strings.TrimSpace(na.Dir) ||
		strings.TrimSpace(oa.StopGrace) != strings.TrimSpace(na.StopGrace) ||
		!slices.Equal(oa.Command, na.Command) ||
		!slices.Equal(oa.Extensions, na.Extensions)
}
