package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "time/tzdata"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: America/New_York
  upcoming_limit: 5
  max_lateness: 90s
audio:
  dir: ./audio
  command: [mpv, --no-video, "{file}"]
  repeat_interval: 2s
storage:
  driver: sqlite
  path: ./bell.db
  busy_timeout: 3s
  watch: true
systemd:
  notify: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Fatal("scheduler.enabled should default to true")
	}
	if got := strings.Join(cfg.Audio.Command, " "); got != "mpv --no-video {file}" {
		t.Fatalf("audio.command = %q", got)
	}
	if cfg.Storage.Driver != "sqlite" || !cfg.Storage.Watch || !cfg.Systemd.Notify {
		t.Fatalf("cfg = %+v", cfg)
	}

	r, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if r.Location.String() != "America/New_York" {
		t.Fatalf("location = %s", r.Location)
	}
	if r.UpcomingLimit != 5 || r.HistorySize != DefaultHistorySize {
		t.Fatalf("limits = %d, %d", r.UpcomingLimit, r.HistorySize)
	}
	if r.MaxLateness != 90*time.Second || r.RepeatInterval != 2*time.Second ||
		r.StopGrace != DefaultStopGrace || r.RefreshInterval != DefaultRefreshInterval ||
		r.BusyTimeout != 3*time.Second {
		t.Fatalf("durations = %+v", r)
	}
	if r.Volume != DefaultVolume {
		t.Fatalf("volume = %d, want %d", r.Volume, DefaultVolume)
	}
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", `{"logging":{"level":"info"},"chime":{}}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
	m = NewConfigManager(writeFile(t, "config.json", `{"logging":{}} {}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	f := false
	loud, quiet := 150, 0
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{}, true},
		{"disabled", Config{Scheduler: SchedulerConfig{Enabled: &f}}, true},
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, false},
		{"bad duration", Config{Audio: AudioConfig{RepeatInterval: "soon"}}, false},
		{"negative duration", Config{Scheduler: SchedulerConfig{MaxLateness: "-1s"}}, false},
		{"negative limit", Config{Scheduler: SchedulerConfig{UpcomingLimit: -1}}, false},
		{"sqlite without path", Config{Storage: StorageConfig{Driver: "sqlite"}}, false},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "redis"}}, false},
		{"empty program", Config{Audio: AudioConfig{Command: []string{" ", "{file}"}}}, false},
		{"extension without dot", Config{Audio: AudioConfig{Extensions: []string{"mp3"}}}, false},
		{"json logs", Config{Logging: LoggingConfig{Format: "json"}}, true},
		{"unknown log format", Config{Logging: LoggingConfig{Format: "xml"}}, false},
		{"muted", Config{Audio: AudioConfig{Volume: &quiet}}, true},
		{"volume over 100", Config{Audio: AudioConfig{Volume: &loud}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if (err == nil) != tc.ok {
				t.Fatalf("Validate = %v, want ok=%v", err, tc.ok)
			}
		})
	}
	if (Config{Scheduler: SchedulerConfig{Enabled: &f}}).Scheduler.IsEnabled() {
		t.Fatal("explicit false must disable the scheduler")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := &Config{Audio: AudioConfig{Dir: "./audio", RepeatInterval: "3s"}}

	next := *base
	next.Audio.RepeatInterval = "5s"
	sections, attrs := SummarizeConfigChange(base, &next)
	if strings.Join(sections, ",") != "audio" || len(attrs) == 0 {
		t.Fatalf("sections = %v", sections)
	}
	if NeedsRestart(base, &next, sections) {
		t.Fatal("repeat interval applies live")
	}

	next.Storage.Driver = "sqlite"
	next.Scheduler.Timezone = "UTC"
	sections, _ = SummarizeConfigChange(base, &next)
	if strings.Join(sections, ",") != "audio,scheduler,storage" {
		t.Fatalf("sections = %v", sections)
	}
	if !NeedsRestart(base, &next, sections) {
		t.Fatal("storage change requires restart")
	}

	tz := *base
	tz.Scheduler.Timezone = "UTC"
	sections, _ = SummarizeConfigChange(base, &tz)
	if !NeedsRestart(base, &tz, sections) {
		t.Fatal("timezone change requires restart")
	}

	vol := *base
	half := 50
	vol.Audio.Volume = &half
	sections, _ = SummarizeConfigChange(base, &vol)
	if strings.Join(sections, ",") != "audio" || NeedsRestart(base, &vol, sections) {
		t.Fatalf("volume change: sections = %v", sections)
	}

	if sections, _ := SummarizeConfigChange(base, base); len(sections) != 0 {
		t.Fatalf("no-op diff = %v", sections)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte("scheduler:\n  timezone: Nowhere/Void\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg == nil || cfg.Logging.Level != "debug" {
			t.Fatalf("published %+v", cfg.Logging)
		}
		if m.Get().Logging.Level != "debug" {
			t.Fatal("published config not committed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"0s", time.Second, false},
		{"0", time.Second, false},
		{"90", 90 * time.Second, false},
		{" 1m30s ", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-2s", 0, true},
		{"-5", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := parseDuration("x", tc.raw, time.Second)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseDuration(%q) err = %v", tc.raw, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseBytesFormats(t *testing.T) {
	t.Parallel()
	// Unknown extension: JSON sniffed by content.
	cfg, err := parseBytes("bell.conf", []byte(`{"logging":{"level":"warn"}}`))
	if err != nil || cfg.Logging.Level != "warn" {
		t.Fatalf("json sniff: %+v, %v", cfg, err)
	}
	cfg, err = parseBytes("bell.conf", []byte("logging:\n  level: error\n"))
	if err != nil || cfg.Logging.Level != "error" {
		t.Fatalf("yaml sniff: %+v, %v", cfg, err)
	}
	if _, err := parseBytes("c.yaml", []byte("logging: {}\n---\nlogging: {}\n")); err == nil {
		t.Fatal("second yaml document accepted")
	}
	if cfg, err := parseBytes("c.yaml", nil); err != nil || cfg == nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestSubscribeKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.yaml")
	sub, unsubscribe := m.Subscribe()

	first := &Config{Logging: LoggingConfig{Level: "info"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second)

	if got := <-sub; got != second {
		t.Fatalf("received %+v, want the latest config", got.Logging)
	}
	select {
	case got := <-sub:
		t.Fatalf("stale config delivered: %+v", got)
	default:
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-sub; ok {
		t.Fatal("channel open after unsubscribe")
	}
	m.publish(first)
}
