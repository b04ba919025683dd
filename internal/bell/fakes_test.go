package bell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schoolbell/internal/audio"
	"schoolbell/internal/schedule"
)

// fakeSource is an in-memory ScheduleSource.
type fakeSource struct {
	mu     sync.Mutex
	weekly schedule.Weekly
	err    error
}

func newFakeSource() *fakeSource { return &fakeSource{weekly: schedule.Weekly{}.Normalize()} }

func (f *fakeSource) put(day schedule.Day, evs ...schedule.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekly[day] = append(f.weekly[day], evs...)
}

func (f *fakeSource) GetAllSchedules(ctx context.Context) (schedule.Weekly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.weekly.Clone(), nil
}

func (f *fakeSource) GetSchedule(ctx context.Context, day schedule.Day) ([]schedule.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.weekly.Clone()[day], nil
}

// fakePlayer records plays. Files in blocking play until stopped; files in
// failing return their error; panicking files panic.
type fakePlayer struct {
	mu        sync.Mutex
	played    []string
	at        []time.Time
	failing   map[string]error
	blocking  map[string]bool
	panicking map[string]bool
	available []string
	active    int
	stop      chan struct{}
	started   chan string
}

func newFakePlayer(available ...string) *fakePlayer {
	return &fakePlayer{
		failing:   map[string]error{},
		blocking:  map[string]bool{},
		panicking: map[string]bool{},
		available: available,
		stop:      make(chan struct{}),
		started:   make(chan string, 64),
	}
}

func (p *fakePlayer) Play(ctx context.Context, file string) (audio.Outcome, error) {
	p.mu.Lock()
	p.played = append(p.played, file)
	p.at = append(p.at, time.Now())
	err := p.failing[file]
	block := p.blocking[file]
	boom := p.panicking[file]
	stop := p.stop
	if block {
		p.active++
	}
	p.mu.Unlock()

	p.started <- file
	if boom {
		panic("player exploded")
	}
	if err != nil {
		return audio.OutcomeCompleted, err
	}
	if !block {
		return audio.OutcomeCompleted, nil
	}
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
	case <-stop:
	}
	return audio.OutcomeStopped, nil
}

func (p *fakePlayer) StopAll(ctx context.Context) error {
	p.mu.Lock()
	close(p.stop)
	p.stop = make(chan struct{})
	p.mu.Unlock()
	for p.Playing() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (p *fakePlayer) ListAvailable(ctx context.Context) ([]string, error) {
	return append([]string(nil), p.available...), nil
}

func (p *fakePlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active > 0
}

func (p *fakePlayer) plays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) waitStarted(file string, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-p.started:
			if f == file {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("playback of %s never started", file)
		}
	}
}

// recordingActivity captures activity entries.
type recordingActivity struct {
	mu      sync.Mutex
	entries []activityEntry
}

type activityEntry struct {
	typ     string
	message string
	details map[string]any
}

func (a *recordingActivity) LogActivity(typ, message string, details map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, activityEntry{typ: typ, message: message, details: details})
}

func (a *recordingActivity) count(typ string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.typ == typ {
			n++
		}
	}
	return n
}

func (a *recordingActivity) last(typ string) (activityEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].typ == typ {
			return a.entries[i], true
		}
	}
	return activityEntry{}, false
}

var errDevice = errors.New("device busy")

func ev(id, name, at string, seq ...schedule.AudioStep) schedule.Event {
	return schedule.Event{ID: id, Name: name, Time: at, Enabled: true, AudioSequence: seq}
}

func step(file string, repeat int) schedule.AudioStep {
	return schedule.AudioStep{AudioFile: file, Repeat: repeat}
}

// slotAt returns the day bucket and HH:MM:SS of t in loc.
func slotAt(t time.Time, loc *time.Location) (schedule.Day, string) {
	t = t.In(loc)
	return schedule.DayOf(t.Weekday()), t.Format("15:04:05")
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
