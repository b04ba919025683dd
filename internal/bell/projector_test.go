package bell

import (
	"context"
	"testing"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// sundayMorning is Sunday 2026-10-18 10:00:00 UTC.
var sundayMorning = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestProjectionWalksSevenDays(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	off := ev("off", "Off", "11:00")
	off.Enabled = false
	src.put(schedule.Sunday,
		ev("past", "Past", "09:00"),
		ev("now", "Exactly now", "10:00"),
		ev("soon", "Soon", "10:00:01"),
		off,
		ev("broken", "Broken", "99:00"),
	)
	src.put(schedule.Monday, ev("mon", "Mon", "08:00"))
	src.put(schedule.Saturday, ev("sat", "Sat", "23:59:59"))

	p := NewProjector(src, time.UTC, 0, fixedNow(sundayMorning), logx.Nop())
	got, err := p.Recompute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id    string
		at    time.Time
		until int64
	}{
		{"soon", time.Date(2026, 10, 18, 10, 0, 1, 0, time.UTC), 1},
		{"mon", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), 22 * 3600},
		{"sat", time.Date(2026, 10, 24, 23, 59, 59, 0, time.UTC), 6*86400 + 13*3600 + 59*60 + 59},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences: %+v", len(got), got)
	}
	for i, w := range want {
		if got[i].EventID != w.id || !got[i].At.Equal(w.at) || got[i].SecondsUntil != w.until {
			t.Fatalf("occurrence %d = %+v, want %s at %s (%ds)", i, got[i], w.id, w.at, w.until)
		}
	}
}

func TestProjectionKeepsNearestTen(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	for h := 0; h < 12; h++ {
		src.put(schedule.Monday, ev(time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15"), "E", time.Date(0, 1, 1, h, 0, 0, 0, time.UTC).Format("15:04")))
	}
	p := NewProjector(src, time.UTC, 0, fixedNow(sundayMorning), logx.Nop())
	got, err := p.Recompute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultProjectionLimit || got[0].EventID != "00" || got[9].EventID != "09" {
		t.Fatalf("unexpected projection %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.Before(got[i-1].At) {
			t.Fatal("projection not sorted")
		}
	}

	if n, _ := p.Next(context.Background(), -3); len(n) != 0 {
		t.Fatalf("Next(-3) = %d items", len(n))
	}
	if n, _ := p.Next(context.Background(), 50); len(n) != DefaultProjectionLimit {
		t.Fatalf("Next(50) = %d items", len(n))
	}
	if c := p.Cached(5); len(c) != 5 {
		t.Fatalf("Cached(5) = %d items", len(c))
	}
}

func TestProjectionAcrossSpringForward(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	src := newFakeSource()
	src.put(schedule.Sunday, ev("gap", "Gap", "02:30"))
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, ny)
	p := NewProjector(src, ny, 0, fixedNow(now), logx.Nop())
	got, err := p.Recompute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %+v", got)
	}
	trig := weeklySchedule{weekday: time.Sunday, hour: 2, minute: 30, loc: ny}
	if want := trig.Next(now); !got[0].At.Equal(want) {
		t.Fatalf("projection %s disagrees with trigger %s", got[0].At, want)
	}
}

func TestTodayMarksPastAndNext(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	off := ev("off", "Off", "10:30")
	off.Enabled = false
	src.put(schedule.Sunday, ev("late", "Late", "15:00"), off, ev("early", "Early", "07:00"), ev("next", "Next", "11:00"))

	p := NewProjector(src, time.UTC, 0, fixedNow(sundayMorning), logx.Nop())
	got, err := p.Today(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []string{"early", "off", "next", "late"}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	if !got[0].IsPast || got[0].IsNext {
		t.Fatalf("early = %+v", got[0])
	}
	if got[1].IsNext || got[1].IsPast {
		t.Fatalf("disabled event = %+v", got[1])
	}
	if !got[2].IsNext || got[3].IsNext {
		t.Fatal("only the first upcoming enabled event is next")
	}
}
