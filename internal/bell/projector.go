package bell

import (
	"context"
	"sort"
	"sync"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

const (
	DefaultProjectionLimit = 10
	DefaultRefreshInterval = time.Minute
	projectionDays         = 7
)

// Occurrence is one upcoming firing derived from the schedule.
type Occurrence struct {
	EventID      string       `json:"eventId"`
	Name         string       `json:"name"`
	Time         string       `json:"time"`
	Day          schedule.Day `json:"day"`
	At           time.Time    `json:"dateTime"`
	SecondsUntil int64        `json:"timeUntil"`
}

// TodayEvent is an event of today's bucket with its position relative to now.
type TodayEvent struct {
	schedule.Event
	IsPast bool `json:"isPast"`
	// IsNext marks the first enabled event not yet past.
	IsNext bool `json:"isNext"`
}

// Projector computes upcoming occurrences purely from the schedule, never
// from trigger state, so it stays correct while triggers are being rebuilt.
type Projector struct {
	src   ScheduleSource
	loc   *time.Location
	limit int
	now   func() time.Time
	log   logx.Logger

	mu      sync.RWMutex
	cache   []Occurrence
	updated time.Time
}

func NewProjector(src ScheduleSource, loc *time.Location, limit int, now func() time.Time, log logx.Logger) *Projector {
	if loc == nil {
		loc = time.Local
	}
	if limit <= 0 {
		limit = DefaultProjectionLimit
	}
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Projector{src: src, loc: loc, limit: limit, now: now, log: log}
}

// Recompute rebuilds the cache: the nearest occurrences over the next seven
// days, today included, sorted by time.
func (p *Projector) Recompute(ctx context.Context) ([]Occurrence, error) {
	weekly, err := p.src.GetAllSchedules(ctx)
	if err != nil {
		return nil, err
	}
	now := p.now().In(p.loc)
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	y, m, d := now.Date()

	var out []Occurrence
	for off := 0; off < projectionDays; off++ {
		date := time.Date(y, m, d+off, 12, 0, 0, 0, p.loc)
		day := schedule.DayOf(date.Weekday())
		for _, ev := range weekly[day] {
			if !ev.Enabled {
				continue
			}
			tod, err := ev.TimeOfDay()
			if err != nil {
				continue
			}
			if off == 0 && tod.SecondsOfDay() <= nowSec {
				continue
			}
			at := wallClock(date.Year(), date.Month(), date.Day(), tod.Hour, tod.Minute, tod.Second, p.loc)
			out = append(out, Occurrence{
				EventID:      ev.ID,
				Name:         ev.Name,
				Time:         ev.Time,
				Day:          day,
				At:           at,
				SecondsUntil: int64(at.Sub(now) / time.Second),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if len(out) > p.limit {
		out = out[:p.limit]
	}

	p.mu.Lock()
	p.cache = out
	p.updated = now
	p.mu.Unlock()
	return cloneOccurrences(out, len(out)), nil
}

// Next recomputes and returns the first n occurrences. n < 0 is treated as 0.
func (p *Projector) Next(ctx context.Context, n int) ([]Occurrence, error) {
	all, err := p.Recompute(ctx)
	if err != nil {
		return nil, err
	}
	return cloneOccurrences(all, n), nil
}

// Cached returns up to n occurrences from the last recompute.
func (p *Projector) Cached(n int) []Occurrence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneOccurrences(p.cache, n)
}

// Updated is when the cache was last rebuilt.
func (p *Projector) Updated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}

// Today returns today's events ordered by time.
func (p *Projector) Today(ctx context.Context) ([]TodayEvent, error) {
	now := p.now().In(p.loc)
	day := schedule.DayOf(now.Weekday())
	evs, err := p.src.GetSchedule(ctx, day)
	if err != nil {
		return nil, err
	}
	evs = append([]schedule.Event(nil), evs...)
	schedule.SortByTime(evs)

	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	out := make([]TodayEvent, 0, len(evs))
	nextMarked := false
	for _, ev := range evs {
		te := TodayEvent{Event: ev.Clone()}
		if tod, err := ev.TimeOfDay(); err == nil {
			te.IsPast = tod.SecondsOfDay() < nowSec
			if !te.IsPast && ev.Enabled && !nextMarked {
				te.IsNext = true
				nextMarked = true
			}
		}
		out = append(out, te)
	}
	return out, nil
}

// Run recomputes every interval until ctx ends.
func (p *Projector) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultRefreshInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Recompute(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("upcoming events refresh failed", logx.Err(err))
			}
		}
	}
}

func cloneOccurrences(src []Occurrence, n int) []Occurrence {
	if n < 0 {
		n = 0
	}
	if n > len(src) {
		n = len(src)
	}
	out := make([]Occurrence, n)
	copy(out, src[:n])
	return out
}
