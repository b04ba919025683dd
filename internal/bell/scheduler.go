package bell

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"schoolbell/internal/audio"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

const DefaultStatusEvents = 5

// Options tunes a Scheduler. The zero value uses the host timezone and the
// package defaults.
type Options struct {
	Location      *time.Location
	MaxLateness   time.Duration
	UpcomingLimit int
	HistorySize   int
	Bus           eventbus.Bus
	Now           func() time.Time
}

// Scheduler is the public surface of the bell engine.
type Scheduler struct {
	rt       *Runtime
	reg      *Registry
	exec     *Executor
	proj     *Projector
	player   audio.Player
	src      ScheduleSource
	activity ActivityLog
	bus      eventbus.Bus
	hist     *history
	log      logx.Logger

	initialized atomic.Bool
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running       bool          `json:"isRunning"`
	Initialized   bool          `json:"isInitialized"`
	State         string        `json:"state"`
	TotalTriggers int           `json:"totalJobs"`
	NextEvents    []Occurrence  `json:"nextEvents"`
	Triggers      []TriggerInfo `json:"jobs"`
	Playing       bool          `json:"playing"`
	ActiveRuns    int           `json:"activeRuns"`
	Timezone      string        `json:"timezone"`
	LastHeartbeat time.Time     `json:"lastHeartbeat,omitzero"`
	History       []Run         `json:"history"`
}

// Statistics summarises the stored schedule.
type Statistics struct {
	TotalEvents    int                  `json:"totalEvents"`
	EnabledEvents  int                  `json:"enabledEvents"`
	DisabledEvents int                  `json:"disabledEvents"`
	EventsPerDay   map[schedule.Day]int `json:"eventsPerDay"`
	ActiveTriggers int                  `json:"activeJobs"`
	Running        bool                 `json:"isRunning"`
}

func New(src ScheduleSource, player audio.Player, settings Settings, activity ActivityLog, log logx.Logger, opt Options) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if activity == nil {
		activity = nopActivity{}
	}
	s := &Scheduler{
		player:   player,
		src:      src,
		activity: activity,
		bus:      opt.Bus,
		hist:     newHistory(opt.HistorySize),
		log:      log,
	}
	s.rt = NewRuntime(opt.Location, log.With(logx.String("comp", "cron")))
	s.exec = NewExecutor(player, settings, log.With(logx.String("comp", "executor")))
	s.reg = NewRegistry(s.rt, src, s.exec, activity, log.With(logx.String("comp", "registry")), RegistryOptions{
		MaxLateness: opt.MaxLateness,
		OnRun:       s.record,
	})
	s.proj = NewProjector(src, s.rt.Location(), opt.UpcomingLimit, opt.Now, log.With(logx.String("comp", "projector")))
	return s
}

// Runtime exposes the timer runtime (heartbeat hook).
func (s *Scheduler) Runtime() *Runtime { return s.rt }

// Init loads the schedule, starts the triggers and primes the projection.
func (s *Scheduler) Init(ctx context.Context) error {
	if err := s.reg.Init(ctx); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.refresh(ctx)
	return nil
}

func (s *Scheduler) Start() (int, error) { return s.reg.Start() }

func (s *Scheduler) Stop() int { return s.reg.Stop() }

func (s *Scheduler) Running() bool { return s.reg.Running() }

// Reload re-reads the whole schedule and re-arms every trigger.
func (s *Scheduler) Reload(ctx context.Context) (int, error) {
	n, err := s.reg.Reload(ctx)
	if err != nil {
		return 0, err
	}
	s.refresh(ctx)
	s.publish(eventbus.TopicReloaded, map[string]any{"triggers": n})
	return n, nil
}

// AddEvent arms ev. armed is false when the event was skipped as disabled
// or invalid; that is not an error.
func (s *Scheduler) AddEvent(ctx context.Context, day schedule.Day, ev schedule.Event) (armed bool, err error) {
	armed, err = s.reg.AddEvent(day, ev)
	if err == nil {
		s.refresh(ctx)
	}
	return armed, err
}

func (s *Scheduler) UpdateEvent(ctx context.Context, day schedule.Day, id string, ev schedule.Event) (armed bool, err error) {
	armed, err = s.reg.UpdateEvent(day, id, ev)
	if err == nil {
		s.refresh(ctx)
	}
	return armed, err
}

func (s *Scheduler) RemoveEvent(ctx context.Context, day schedule.Day, id string) bool {
	removed := s.reg.RemoveEvent(day, id)
	s.refresh(ctx)
	return removed
}

// TestEvent plays ev once, outside the trigger machinery. Missing audio
// files fail before anything plays.
func (s *Scheduler) TestEvent(ctx context.Context, day schedule.Day, ev schedule.Event) (Result, error) {
	run := Run{Day: day, EventID: ev.ID, Name: ev.Name, Time: ev.Time, Started: time.Now()}
	details := map[string]any{"eventId": ev.ID, "day": string(day)}

	var (
		res Result
		err error
	)
	if !ev.HasAudio() {
		err = ErrNoAudio
	} else {
		res, err = s.exec.TestExecute(ctx, ev.AudioSequence)
	}
	run.Duration = time.Since(run.Started)
	run.Outcome = res.Outcome.String()
	if err != nil {
		run.Kind = RunTestFailed
		run.Err = err.Error()
		s.activity.LogActivity(ActivityTestFailed, fmt.Sprintf("Test failed for event %s: %v", ev.Name, err), withErr(details, err.Error()))
		s.log.Warn("event test failed", logx.String("event", ev.ID), logx.Err(err))
	} else {
		run.Kind = RunTested
		s.activity.LogActivity(ActivityTested, fmt.Sprintf("Tested event: %s", ev.Name), details)
		s.log.Info("event tested", logx.String("event", ev.ID), logx.String("outcome", run.Outcome))
	}
	s.record(run)
	return res, err
}

// EmergencyStop stops every trigger and silences playback. When it returns
// the registry is stopped and the player reports nothing playing.
func (s *Scheduler) EmergencyStop(ctx context.Context) error {
	triggers := s.reg.Stop()
	cancelled := s.exec.CancelAll()
	var err error
	if s.player != nil {
		if err = s.player.StopAll(ctx); err != nil {
			s.log.Error("emergency stop: player did not stop", logx.Err(err))
		}
	}
	s.activity.LogActivity(ActivityEmergencyStop, "Emergency stop activated", map[string]any{
		"triggers": triggers, "sequences": cancelled,
	})
	s.log.Warn("emergency stop", logx.Int("triggers", triggers), logx.Int("sequences", cancelled))
	s.publish(eventbus.TopicEmergencyStop, map[string]any{"triggers": triggers, "sequences": cancelled})
	return err
}

// Status reports the cached projection; it does not recompute.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:       s.reg.Running(),
		Initialized:   s.initialized.Load(),
		State:         s.reg.State().String(),
		TotalTriggers: s.reg.Count(),
		NextEvents:    s.proj.Cached(DefaultStatusEvents),
		Triggers:      s.reg.Triggers(),
		ActiveRuns:    s.exec.Active(),
		Timezone:      s.rt.Location().String(),
		LastHeartbeat: s.rt.LastHeartbeat(),
		History:       s.hist.snapshot(),
	}
	if s.player != nil {
		st.Playing = s.player.Playing()
	}
	return st
}

// Statistics counts stored events; it reads the schedule, not the triggers.
func (s *Scheduler) Statistics(ctx context.Context) (Statistics, error) {
	weekly, err := s.src.GetAllSchedules(ctx)
	if err != nil {
		return Statistics{}, err
	}
	st := Statistics{
		EventsPerDay:   make(map[schedule.Day]int, len(weekly)),
		ActiveTriggers: s.reg.Count(),
		Running:        s.reg.Running(),
	}
	for day, evs := range weekly {
		st.EventsPerDay[day] = len(evs)
		st.TotalEvents += len(evs)
		for _, ev := range evs {
			if ev.Enabled {
				st.EnabledEvents++
			}
		}
	}
	st.DisabledEvents = st.TotalEvents - st.EnabledEvents
	return st, nil
}

// NextEvents recomputes the projection and returns the first n occurrences.
func (s *Scheduler) NextEvents(ctx context.Context, n int) ([]Occurrence, error) {
	return s.proj.Next(ctx, n)
}

func (s *Scheduler) TodayEvents(ctx context.Context) ([]TodayEvent, error) {
	return s.proj.Today(ctx)
}

// Run keeps the projection fresh until ctx ends.
func (s *Scheduler) Run(ctx context.Context, every time.Duration) {
	s.proj.Run(ctx, every)
}

// Close destroys every trigger, aborts running sequences and stops the
// runtime, waiting for callbacks until ctx ends.
func (s *Scheduler) Close(ctx context.Context) error {
	s.reg.Destroy()
	s.exec.CancelAll()
	s.rt.Stop(ctx)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scheduler) refresh(ctx context.Context) {
	if _, err := s.proj.Recompute(ctx); err != nil {
		s.log.Warn("upcoming events refresh failed", logx.Err(err))
	}
}

func (s *Scheduler) record(run Run) {
	s.hist.add(run)
	var topic string
	switch run.Kind {
	case RunFired:
		topic = eventbus.TopicBellFired
	case RunFailed:
		topic = eventbus.TopicBellFailed
	case RunMissed:
		topic = eventbus.TopicBellMissed
	case RunTested:
		topic = eventbus.TopicBellTested
	case RunTestFailed:
		topic = eventbus.TopicBellTestFailed
	default:
		return
	}
	s.publish(topic, run)
}

func (s *Scheduler) publish(topic string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: data})
}
