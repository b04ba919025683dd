package bell

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
)

// weeklySchedule fires once a week at a wall-clock time in loc. It is
// computed with time.Date per calendar day instead of a fixed offset, so a
// DST change shifts nothing but the UTC instant:
//   - a time inside a spring-forward gap rings right after the jump
//     (02:30 becomes 03:30)
//   - a time repeated by a fall-back rings on its first occurrence only
type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	minute  int
	second  int
	loc     *time.Location
}

func (s weeklySchedule) on(y int, m time.Month, d int) (time.Time, bool) {
	if time.Date(y, m, d, 12, 0, 0, 0, s.loc).Weekday() != s.weekday {
		return time.Time{}, false
	}
	return wallClock(y, m, d, s.hour, s.minute, s.second, s.loc), true
}

// Next implements cron.Schedule.
func (s weeklySchedule) Next(t time.Time) time.Time {
	t = t.In(s.loc)
	y, m, d := t.Date()
	for off := 0; off <= 7; off++ {
		if c, ok := s.on(y, m, d+off); ok && c.After(t) {
			return c
		}
	}
	return time.Time{}
}

// Prev returns the latest firing at or before t.
func (s weeklySchedule) Prev(t time.Time) time.Time {
	t = t.In(s.loc)
	y, m, d := t.Date()
	for off := 0; off <= 7; off++ {
		if c, ok := s.on(y, m, d-off); ok && !c.After(t) {
			return c
		}
	}
	return time.Time{}
}

// wallClock is time.Date, except that a wall time skipped by a
// spring-forward transition resolves to the same wall reading after the
// jump rather than before it.
func wallClock(y int, m time.Month, d, hh, mm, ss int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, hh, mm, ss, 0, loc)
	if t.Hour() == hh && t.Minute() == mm {
		return t
	}
	_, before := t.Zone()
	_, after := t.Add(12 * time.Hour).Zone()
	if after > before {
		t = t.Add(time.Duration(after-before) * time.Second)
	}
	return t
}

// Trigger is one armable weekly recurrence on a shared Runtime.
type Trigger struct {
	rt    *Runtime
	sched weeklySchedule
	expr  string
	fn    func()

	mu        sync.Mutex
	entry     cron.EntryID
	running   bool
	destroyed bool
}

// NewTrigger validates the fields and returns a trigger that is not yet firing.
func NewTrigger(rt *Runtime, weekday time.Weekday, hour, minute, second int, fn func()) (*Trigger, error) {
	switch {
	case rt == nil:
		return nil, fmt.Errorf("%w: nil runtime", ErrInvalidTrigger)
	case fn == nil:
		return nil, fmt.Errorf("%w: nil callback", ErrInvalidTrigger)
	case weekday < time.Sunday || weekday > time.Saturday:
		return nil, fmt.Errorf("%w: weekday %d out of range", ErrInvalidTrigger, weekday)
	case hour < 0 || hour > 23:
		return nil, fmt.Errorf("%w: hour %d out of range", ErrInvalidTrigger, hour)
	case minute < 0 || minute > 59:
		return nil, fmt.Errorf("%w: minute %d out of range", ErrInvalidTrigger, minute)
	case second < 0 || second > 59:
		return nil, fmt.Errorf("%w: second %d out of range", ErrInvalidTrigger, second)
	}
	expr := fmt.Sprintf("%d %d %d * * %d", second, minute, hour, int(weekday))
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("%w: expression %q rejected", ErrInvalidTrigger, expr)
	}
	return &Trigger{
		rt:    rt,
		sched: weeklySchedule{weekday: weekday, hour: hour, minute: minute, second: second, loc: rt.Location()},
		expr:  expr,
		fn:    fn,
	}, nil
}

// Expression is the 6-field cron form (seconds first).
func (t *Trigger) Expression() string { return t.expr }

// Start is idempotent. A destroyed trigger cannot be started.
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}
	if t.running {
		return nil
	}
	t.entry = t.rt.schedule(t.sched, t.fn)
	t.running = true
	return nil
}

// Stop is idempotent. A callback already running is not interrupted.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.rt.remove(t.entry)
	t.entry = 0
	t.running = false
}

// Destroy stops the trigger for good. Idempotent.
func (t *Trigger) Destroy() {
	t.Stop()
	t.mu.Lock()
	t.destroyed = true
	t.mu.Unlock()
}

func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// NextFire is the next firing after now, or zero when not running.
func (t *Trigger) NextFire(now time.Time) time.Time {
	if !t.Running() {
		return time.Time{}
	}
	return t.sched.Next(now)
}

// scheduledAt is the firing instant a callback invoked at now belongs to.
func (t *Trigger) scheduledAt(now time.Time) time.Time { return t.sched.Prev(now) }
