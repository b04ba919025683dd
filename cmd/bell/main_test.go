package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli"

	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

func TestMain(m *testing.M) {
	cli.OsExiter = func(int) {}
	os.Exit(m.Run())
}

func setup(t *testing.T) (cfgPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "bells.json")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("logging:\n  level: error\naudio:\n  dir: %q\nstorage:\n  driver: file\n  path: %q\n", dir, storePath)
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, storePath
}

func run(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	full := append([]string{"bell", "--config", cfgPath}, args...)
	if err := newApp(&buf).Run(full); err != nil {
		t.Fatalf("bell %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func storedEvents(t *testing.T, storePath string, day schedule.Day) []schedule.Event {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	evs, err := st.GetSchedule(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	return evs
}

func TestEventsLifecycle(t *testing.T) {
	cfgPath, storePath := setup(t)

	out := run(t, cfgPath, "events", "add", "--day", "Monday", "--name", "Period 1", "--time", "08:00", "--audio", "bell.mp3:2", "--audio", "chime.wav")
	if !strings.Contains(out, "added Period 1 on monday at 08:00") {
		t.Fatalf("add output = %q", out)
	}
	evs := storedEvents(t, storePath, schedule.Monday)
	if len(evs) != 1 || len(evs[0].AudioSequence) != 2 || evs[0].AudioSequence[0].Repeat != 2 {
		t.Fatalf("stored = %+v", evs)
	}
	id := evs[0].ID

	out = run(t, cfgPath, "events", "list", "monday")
	if !strings.Contains(out, id) || !strings.Contains(out, "bell.mp3 x2, chime.wav") {
		t.Fatalf("list output = %q", out)
	}

	out = run(t, cfgPath, "next", "-n", "1")
	if !strings.Contains(out, "Period 1") || !strings.Contains(out, "from now") {
		t.Fatalf("next output = %q", out)
	}

	run(t, cfgPath, "events", "disable", "monday", id)
	if storedEvents(t, storePath, schedule.Monday)[0].Enabled {
		t.Fatal("event still enabled")
	}
	out = run(t, cfgPath, "stats")
	if !strings.Contains(out, "events:   1 (enabled: 0, disabled: 1)") {
		t.Fatalf("stats output = %q", out)
	}

	run(t, cfgPath, "events", "remove", "monday", id)
	if len(storedEvents(t, storePath, schedule.Monday)) != 0 {
		t.Fatal("event not removed")
	}
}

func TestAddRejectsInvalidEvent(t *testing.T) {
	cfgPath, storePath := setup(t)
	var buf bytes.Buffer
	err := newApp(&buf).Run([]string{"bell", "--config", cfgPath, "events", "add", "--day", "monday", "--name", "Broken", "--time", "25:00"})
	if err == nil {
		t.Fatal("invalid time accepted")
	}
	if len(storedEvents(t, storePath, schedule.Monday)) != 0 {
		t.Fatal("invalid event stored")
	}
}

func TestParseStep(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want schedule.AudioStep
		ok   bool
	}{
		{"bell.mp3", schedule.AudioStep{AudioFile: "bell.mp3", Repeat: 1}, true},
		{"bell.mp3:3", schedule.AudioStep{AudioFile: "bell.mp3", Repeat: 3}, true},
		{" chime.wav:1 ", schedule.AudioStep{AudioFile: "chime.wav", Repeat: 1}, true},
		{"bell.mp3:0", schedule.AudioStep{}, false},
		{"bell.mp3:x", schedule.AudioStep{}, false},
		{"", schedule.AudioStep{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseStep(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("parseStep(%q) err = %v", tc.in, err)
			}
			if tc.ok && got != tc.want {
				t.Fatalf("parseStep(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}
