package schedule

import (
	"encoding/json"
	"sort"
	"time"
)

// AudioStep is one entry of an event's audio sequence.
type AudioStep struct {
	AudioFile string `json:"audioFile"`
	Repeat    int    `json:"repeat"`
}

// Times returns how often the step plays. Anything below 1 counts as 1.
func (s AudioStep) Times() int {
	if s.Repeat < 1 {
		return 1
	}
	return s.Repeat
}

// Event is one scheduled bell.
//
// CreatedAt/UpdatedAt are owned by the storage layer; the scheduler never sets them.
type Event struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Time          string      `json:"time"`
	Enabled       bool        `json:"enabled"`
	AudioSequence []AudioStep `json:"audioSequence"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"createdAt,omitzero"`
	UpdatedAt     time.Time   `json:"updatedAt,omitzero"`
}

// UnmarshalJSON treats a missing "enabled" key as enabled; only an explicit
// false disables an event.
func (e *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	tmp := struct {
		plain
		Enabled *bool `json:"enabled"`
	}{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*e = Event(tmp.plain)
	e.Enabled = tmp.Enabled == nil || *tmp.Enabled
	return nil
}

// Clone returns a deep copy. Trigger callbacks hold clones so a concurrent
// reload can never mutate the event they are executing.
func (e Event) Clone() Event {
	cp := e
	if e.AudioSequence != nil {
		cp.AudioSequence = append([]AudioStep(nil), e.AudioSequence...)
	}
	return cp
}

// TimeOfDay parses the event's time field.
func (e Event) TimeOfDay() (TimeOfDay, error) { return ParseTimeOfDay(e.Time) }

// HasAudio reports whether the event has anything to play.
func (e Event) HasAudio() bool { return len(e.AudioSequence) > 0 }

// EventPatch is a partial update; nil fields are left unchanged.
type EventPatch struct {
	Name          *string      `json:"name,omitempty"`
	Time          *string      `json:"time,omitempty"`
	Enabled       *bool        `json:"enabled,omitempty"`
	AudioSequence *[]AudioStep `json:"audioSequence,omitempty"`
	Notes         *string      `json:"notes,omitempty"`
}

// Apply returns a copy of e with the patch applied. ID and timestamps are never touched.
func (p EventPatch) Apply(e Event) Event {
	out := e.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Time != nil {
		out.Time = *p.Time
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.AudioSequence != nil {
		out.AudioSequence = append([]AudioStep(nil), (*p.AudioSequence)...)
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	return out
}

// Weekly maps each day to its events.
type Weekly map[Day][]Event

// Normalize makes sure all seven days are present.
func (w Weekly) Normalize() Weekly {
	if w == nil {
		w = Weekly{}
	}
	for _, d := range Days {
		if w[d] == nil {
			w[d] = []Event{}
		}
	}
	return w
}

// Canonical rebuilds w with lower-case day keys, merging buckets that differ
// only in case ("Monday" and "monday") and sorting each merged day by time.
// Keys that name no weekday are dropped and returned.
func (w Weekly) Canonical() (Weekly, []string) {
	out := Weekly{}.Normalize()
	var unknown []string
	keys := make([]string, 0, len(w))
	for d := range w {
		keys = append(keys, string(d))
	}
	sort.Strings(keys)
	for _, k := range keys {
		d, err := ParseDay(k)
		if err != nil {
			unknown = append(unknown, k)
			continue
		}
		out[d] = append(out[d], w[Day(k)]...)
	}
	for _, d := range Days {
		SortByTime(out[d])
	}
	return out, unknown
}

// Clone deep-copies the schedule.
func (w Weekly) Clone() Weekly {
	out := make(Weekly, len(w))
	for d, evs := range w {
		cp := make([]Event, len(evs))
		for i := range evs {
			cp[i] = evs[i].Clone()
		}
		out[d] = cp
	}
	return out
}

// SortByTime orders events by time-of-day ascending. Events with an
// unparsable time sort last, keeping their relative order.
func SortByTime(events []Event) {
	key := func(e Event) int {
		t, err := e.TimeOfDay()
		if err != nil {
			return 1 << 30
		}
		return t.SecondsOfDay()
	}
	sort.SliceStable(events, func(i, j int) bool { return key(events[i]) < key(events[j]) })
}
