package schedule

import (
	"encoding/json"
	"testing"
)

func TestEventEnabledDefaultsToTrue(t *testing.T) {
	t.Parallel()
	var missing, off Event
	if err := json.Unmarshal([]byte(`{"id":"a","name":"A","time":"08:00"}`), &missing); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !missing.Enabled {
		t.Fatal("missing enabled key should decode as enabled")
	}
	if err := json.Unmarshal([]byte(`{"id":"b","name":"B","time":"08:00","enabled":false}`), &off); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if off.Enabled {
		t.Fatal("explicit false should decode as disabled")
	}
	if off.ID != "b" || off.Name != "B" || off.Time != "08:00" {
		t.Fatalf("fields not decoded: %+v", off)
	}
}

func TestEventCloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := Event{ID: "x", AudioSequence: []AudioStep{{AudioFile: "a.mp3", Repeat: 2}}}
	cp := orig.Clone()
	cp.AudioSequence[0].AudioFile = "changed.mp3"
	if orig.AudioSequence[0].AudioFile != "a.mp3" {
		t.Fatal("clone shares audio sequence with original")
	}
}

func TestSortByTime(t *testing.T) {
	t.Parallel()
	evs := []Event{
		{ID: "late", Time: "15:00"},
		{ID: "bad", Time: "nope"},
		{ID: "early", Time: "07:30"},
		{ID: "mid", Time: "07:30:30"},
	}
	SortByTime(evs)
	want := []string{"early", "mid", "late", "bad"}
	for i, id := range want {
		if evs[i].ID != id {
			t.Fatalf("position %d = %q, want %q", i, evs[i].ID, id)
		}
	}
}

func TestEventPatchApply(t *testing.T) {
	t.Parallel()
	name := "Lunch"
	enabled := false
	e := Event{ID: "1", Name: "Break", Time: "10:00", Enabled: true}
	got := EventPatch{Name: &name, Enabled: &enabled}.Apply(e)
	if got.ID != "1" || got.Name != "Lunch" || got.Enabled || got.Time != "10:00" {
		t.Fatalf("unexpected patched event: %+v", got)
	}
	if e.Name != "Break" {
		t.Fatal("patch mutated the original")
	}
}

func TestWeeklyNormalize(t *testing.T) {
	t.Parallel()
	w := Weekly{Monday: {{ID: "m"}}}.Normalize()
	if len(w) != 7 {
		t.Fatalf("expected 7 days, got %d", len(w))
	}
	if len(w[Monday]) != 1 || w[Sunday] == nil {
		t.Fatalf("unexpected normalized schedule: %+v", w)
	}
}

func TestWeeklyCanonicalMergesDayKeys(t *testing.T) {
	t.Parallel()
	w := Weekly{
		"Monday":  {{ID: "late", Time: "10:00"}},
		"monday":  {{ID: "early", Time: "08:00"}},
		"FRIDAY":  {{ID: "f", Time: "09:00"}},
		"someday": {{ID: "x", Time: "07:00"}},
	}
	got, unknown := w.Canonical()
	if len(unknown) != 1 || unknown[0] != "someday" {
		t.Fatalf("unknown = %v", unknown)
	}
	if len(got) != 7 {
		t.Fatalf("days = %d, want 7", len(got))
	}
	if mon := got[Monday]; len(mon) != 2 || mon[0].ID != "early" || mon[1].ID != "late" {
		t.Fatalf("monday = %+v", mon)
	}
	if fri := got[Friday]; len(fri) != 1 || fri[0].ID != "f" {
		t.Fatalf("friday = %+v", fri)
	}
	if _, ok := got["Monday"]; ok {
		t.Fatal("mixed-case key kept")
	}
}
