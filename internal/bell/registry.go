package bell

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// ScheduleSource is the read side of schedule storage.
type ScheduleSource interface {
	GetAllSchedules(ctx context.Context) (schedule.Weekly, error)
	GetSchedule(ctx context.Context, day schedule.Day) ([]schedule.Event, error)
}

// ActivityLog records user-visible activity. Implementations must not block
// for long and never report failure to the caller.
type ActivityLog interface {
	LogActivity(typ, message string, details map[string]any)
}

type nopActivity struct{}

func (nopActivity) LogActivity(string, string, map[string]any) {}

// Activity log entry types.
const (
	ActivityExecuted        = "schedule_executed"
	ActivityExecutionFailed = "schedule_execution_failed"
	ActivityNoAudio         = "schedule_no_audio"
	ActivityMissed          = "schedule_missed"
	ActivityTested          = "schedule_tested"
	ActivityTestFailed      = "schedule_test_failed"
	ActivityStarted         = "scheduler_started"
	ActivityStopped         = "scheduler_stopped"
	ActivityReloaded        = "scheduler_reloaded"
	ActivityEmergencyStop   = "emergency_stop"
)

const DefaultMaxLateness = time.Minute

// State is the registry lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateRunning
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type triggerKey struct {
	day schedule.Day
	id  string
}

// armedTrigger is never mutated after creation; updates replace it.
type armedTrigger struct {
	trigger *Trigger
	day     schedule.Day
	event   schedule.Event
}

// TriggerInfo describes one armed trigger.
type TriggerInfo struct {
	Day        schedule.Day `json:"day"`
	EventID    string       `json:"eventId"`
	Name       string       `json:"name"`
	Time       string       `json:"time"`
	Expression string       `json:"cronExpression"`
	Enabled    bool         `json:"enabled"`
	Running    bool         `json:"isRunning"`
	Next       time.Time    `json:"next,omitzero"`
}

// RegistryOptions are optional Registry collaborators.
type RegistryOptions struct {
	// MaxLateness is how late a firing may start before it is skipped as
	// missed (machine asleep, clock jump). Default DefaultMaxLateness.
	MaxLateness time.Duration
	// OnRun observes every fired, failed and missed run.
	OnRun func(Run)
	Now   func() time.Time
}

// Registry owns the armed triggers, keyed by (day, event id).
type Registry struct {
	rt       *Runtime
	src      ScheduleSource
	exec     *Executor
	activity ActivityLog
	log      logx.Logger
	opt      RegistryOptions

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.Mutex
	state    State
	triggers map[triggerKey]*armedTrigger
}

func NewRegistry(rt *Runtime, src ScheduleSource, exec *Executor, activity ActivityLog, log logx.Logger, opt RegistryOptions) *Registry {
	if activity == nil {
		activity = nopActivity{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.MaxLateness <= 0 {
		opt.MaxLateness = DefaultMaxLateness
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rt:        rt,
		src:       src,
		exec:      exec,
		activity:  activity,
		log:       log,
		opt:       opt,
		runCtx:    ctx,
		cancelRun: cancel,
		triggers:  map[triggerKey]*armedTrigger{},
	}
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Registry) Running() bool { return r.State() == StateRunning }

// Count is the number of armed triggers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

// Init loads the schedule and starts firing. Only the first successful call
// has an effect.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()
	switch st {
	case StateDestroyed:
		return ErrDestroyed
	case StateUninitialized:
	default:
		return nil
	}

	n, err := r.LoadSchedules(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.state == StateUninitialized {
		r.state = StateLoaded
	}
	r.mu.Unlock()
	r.log.Info("schedules loaded", logx.Int("triggers", n))
	_, err = r.Start()
	return err
}

// LoadSchedules re-reads the whole schedule, destroys every armed trigger
// and re-arms the enabled, valid events. Invalid records are skipped.
func (r *Registry) LoadSchedules(ctx context.Context) (int, error) {
	weekly, err := r.src.GetAllSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return 0, ErrDestroyed
	}
	r.clearLocked()

	// deterministic arming order keeps logs readable
	days := make([]string, 0, len(weekly))
	for d := range weekly {
		days = append(days, string(d))
	}
	sort.Strings(days)

	skipped := 0
	for _, d := range days {
		for _, ev := range weekly[schedule.Day(d)] {
			if _, err := r.armLocked(schedule.Day(d), ev); err != nil {
				skipped++
				r.log.Debug("event not armed", logx.String("day", d), logx.String("event", ev.ID), logx.Err(err))
			}
		}
	}
	if skipped > 0 {
		r.log.Debug("events skipped during load", logx.Int("skipped", skipped))
	}
	return len(r.triggers), nil
}

// Reload is LoadSchedules plus an activity entry.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	n, err := r.LoadSchedules(ctx)
	if err != nil {
		return 0, err
	}
	r.activity.LogActivity(ActivityReloaded, fmt.Sprintf("Scheduler reloaded with %d jobs", n), map[string]any{"jobs": n})
	r.log.Info("schedules reloaded", logx.Int("triggers", n))
	return n, nil
}

// errSkip explains why an event was not armed. It never leaves the package
// as a failure; callers get armed=false.
type errSkip string

func (e errSkip) Error() string { return string(e) }

// armLocked arms ev on day, replacing any trigger with the same key.
func (r *Registry) armLocked(day schedule.Day, ev schedule.Event) (bool, error) {
	d, err := schedule.ParseDay(string(day))
	if err != nil {
		return false, errSkip("unknown day")
	}
	if strings.TrimSpace(ev.ID) == "" {
		return false, errSkip("missing id")
	}
	if strings.TrimSpace(ev.Name) == "" || strings.TrimSpace(ev.Time) == "" {
		return false, errSkip("missing name or time")
	}
	if !ev.Enabled {
		return false, errSkip("disabled")
	}
	tod, err := ev.TimeOfDay()
	if err != nil {
		return false, errSkip(err.Error())
	}

	k := triggerKey{day: d, id: ev.ID}
	r.disarmLocked(k)

	snap := ev.Clone()
	var trig *Trigger
	trig, err = NewTrigger(r.rt, d.Weekday(), tod.Hour, tod.Minute, tod.Second, func() {
		r.fire(d, snap, trig)
	})
	if err != nil {
		return false, err
	}
	r.triggers[k] = &armedTrigger{trigger: trig, day: d, event: snap}
	if r.state == StateRunning {
		if err := trig.Start(); err != nil {
			delete(r.triggers, k)
			return false, err
		}
	}
	return true, nil
}

func (r *Registry) disarmLocked(k triggerKey) bool {
	a, ok := r.triggers[k]
	if !ok {
		return false
	}
	a.trigger.Destroy()
	delete(r.triggers, k)
	return true
}

func (r *Registry) clearLocked() {
	for k, a := range r.triggers {
		a.trigger.Destroy()
		delete(r.triggers, k)
	}
}

// AddEvent arms one event. Invalid or disabled events are not armed and do
// not produce an error; armed reports what happened.
func (r *Registry) AddEvent(day schedule.Day, ev schedule.Event) (armed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return false, ErrDestroyed
	}
	ok, why := r.armLocked(day, ev)
	if !ok {
		r.log.Debug("event not armed", logx.String("day", string(day)), logx.String("event", ev.ID), logx.Err(why))
	}
	return ok, nil
}

// UpdateEvent replaces the trigger for (day, id): remove, then add.
func (r *Registry) UpdateEvent(day schedule.Day, id string, ev schedule.Event) (armed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return false, ErrDestroyed
	}
	r.removeLocked(day, id)
	ev.ID = id
	ok, why := r.armLocked(day, ev)
	if !ok {
		r.log.Debug("updated event not armed", logx.String("day", string(day)), logx.String("event", id), logx.Err(why))
	}
	return ok, nil
}

// RemoveEvent disarms (day, id). Removing an absent trigger is a no-op.
func (r *Registry) RemoveEvent(day schedule.Day, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(day, id)
}

func (r *Registry) removeLocked(day schedule.Day, id string) bool {
	d, err := schedule.ParseDay(string(day))
	if err != nil {
		return false
	}
	return r.disarmLocked(triggerKey{day: d, id: id})
}

// Start starts every armed trigger. Starting a running registry is a no-op.
func (r *Registry) Start() (int, error) {
	r.mu.Lock()
	switch r.state {
	case StateDestroyed:
		r.mu.Unlock()
		return 0, ErrDestroyed
	case StateUninitialized:
		r.mu.Unlock()
		return 0, ErrNotInitialized
	case StateRunning:
		r.mu.Unlock()
		return 0, nil
	}
	n := 0
	for _, a := range r.triggers {
		if err := a.trigger.Start(); err == nil {
			n++
		}
	}
	r.state = StateRunning
	r.mu.Unlock()

	r.rt.Start()
	r.activity.LogActivity(ActivityStarted, fmt.Sprintf("Scheduler started with %d jobs", n), map[string]any{"jobs": n})
	r.log.Info("scheduler started", logx.Int("triggers", n))
	return n, nil
}

// Stop stops future firings. Sequences already playing continue.
func (r *Registry) Stop() int {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return 0
	}
	n := 0
	for _, a := range r.triggers {
		a.trigger.Stop()
		n++
	}
	r.state = StateStopped
	r.mu.Unlock()

	r.activity.LogActivity(ActivityStopped, fmt.Sprintf("Scheduler stopped (%d jobs)", n), map[string]any{"jobs": n})
	r.log.Info("scheduler stopped", logx.Int("triggers", n))
	return n
}

// Destroy releases every trigger. The registry cannot be used afterwards.
func (r *Registry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return
	}
	r.clearLocked()
	r.state = StateDestroyed
	r.cancelRun()
}

// Triggers lists armed triggers sorted by day then time.
func (r *Registry) Triggers() []TriggerInfo {
	now := r.opt.Now()
	r.mu.Lock()
	out := make([]TriggerInfo, 0, len(r.triggers))
	for _, a := range r.triggers {
		out = append(out, TriggerInfo{
			Day:        a.day,
			EventID:    a.event.ID,
			Name:       a.event.Name,
			Time:       a.event.Time,
			Expression: a.trigger.Expression(),
			Enabled:    a.event.Enabled,
			Running:    a.trigger.Running(),
			Next:       a.trigger.NextFire(now),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		wi, wj := out[i].Day.Weekday(), out[j].Day.Weekday()
		if wi != wj {
			return wi < wj
		}
		ti, _ := schedule.ParseTimeOfDay(out[i].Time)
		tj, _ := schedule.ParseTimeOfDay(out[j].Time)
		if ti != tj {
			return ti.SecondsOfDay() < tj.SecondsOfDay()
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// handle returns the trigger armed for (day, id), if any.
func (r *Registry) handle(day schedule.Day, id string) *Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.triggers[triggerKey{day: day, id: id}]; ok {
		return a.trigger
	}
	return nil
}

// fire is the trigger callback. It never panics and never returns an error:
// whatever goes wrong is logged, recorded and dropped so the schedule keeps
// running.
func (r *Registry) fire(day schedule.Day, ev schedule.Event, t *Trigger) {
	var epoch uint64
	if r.exec != nil {
		epoch = r.exec.Epoch()
	}
	started := r.opt.Now()
	run := Run{Day: day, EventID: ev.ID, Name: ev.Name, Time: ev.Time, Started: started}
	if t != nil {
		run.Scheduled = t.scheduledAt(started)
	}
	details := map[string]any{"eventId": ev.ID, "day": string(day), "time": ev.Time}

	defer func() {
		if rec := recover(); rec != nil {
			run.Kind = RunFailed
			run.Err = fmt.Sprint("panic: ", rec)
			r.log.Error("trigger callback panicked", logx.String("event", ev.ID), logx.String("day", string(day)), logx.Any("panic", rec))
			r.activity.LogActivity(ActivityExecutionFailed, fmt.Sprintf("Failed to execute scheduled event: %s", ev.Name), withErr(details, run.Err))
			r.observe(run)
		}
	}()

	if !run.Scheduled.IsZero() {
		if late := started.Sub(run.Scheduled); late > r.opt.MaxLateness {
			run.Kind = RunMissed
			r.log.Warn("bell skipped: fired too late",
				logx.String("event", ev.ID), logx.String("day", string(day)),
				logx.Time("scheduled", run.Scheduled), logx.Duration("late", late))
			r.activity.LogActivity(ActivityMissed, fmt.Sprintf("Skipped late event: %s", ev.Name), details)
			r.observe(run)
			return
		}
	}

	// A callback dispatched just before Stop or an emergency stop must
	// not start playing afterwards.
	if !r.Running() {
		r.log.Info("bell skipped: scheduler stopped", logx.String("event", ev.ID), logx.String("day", string(day)))
		return
	}

	res, err := r.executeEvent(r.runCtx, epoch, day, ev)
	run.Duration = r.opt.Now().Sub(started)
	run.Outcome = res.Outcome.String()
	if err != nil {
		run.Kind = RunFailed
		run.Err = err.Error()
		r.log.Error("scheduled event failed",
			logx.String("event", ev.ID), logx.String("day", string(day)), logx.String("time", ev.Time), logx.Err(err))
		r.activity.LogActivity(ActivityExecutionFailed, fmt.Sprintf("Failed to execute scheduled event: %s", ev.Name), withErr(details, err.Error()))
	} else {
		run.Kind = RunFired
	}
	r.observe(run)
}

// executeEvent is the fallible part of a firing.
func (r *Registry) executeEvent(ctx context.Context, epoch uint64, day schedule.Day, ev schedule.Event) (Result, error) {
	r.activity.LogActivity(ActivityExecuted, fmt.Sprintf("Executed scheduled event: %s", ev.Name), map[string]any{
		"eventId": ev.ID, "day": string(day), "time": ev.Time, "audioCount": len(ev.AudioSequence),
	})
	r.log.Info("bell fired", logx.String("event", ev.ID), logx.String("name", ev.Name), logx.String("day", string(day)), logx.String("time", ev.Time))
	if !ev.HasAudio() {
		r.activity.LogActivity(ActivityNoAudio, fmt.Sprintf("Event has no audio sequence: %s", ev.Name), map[string]any{"eventId": ev.ID, "day": string(day)})
		return Result{}, nil
	}
	if r.exec == nil {
		return Result{}, fmt.Errorf("no executor configured")
	}
	return r.exec.ExecuteSince(ctx, epoch, ev.AudioSequence)
}

func (r *Registry) observe(run Run) {
	if r.opt.OnRun != nil {
		r.opt.OnRun(run)
	}
}

func withErr(details map[string]any, msg string) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["error"] = msg
	return out
}
