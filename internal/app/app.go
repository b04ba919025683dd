// Package app wires the bell daemon together: config, logging, storage,
// audio, the bell scheduler and systemd, run under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"schoolbell/internal/audio"
	"schoolbell/internal/bell"
	"schoolbell/internal/config"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/runtime/supervisor"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
	"schoolbell/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	store    storage.Store
	player   audio.Player
	settings *settings
	sched    *bell.Scheduler
	notify   *systemd.Notifier
	resolved config.Resolved
	watch    bool
}

// Option adjusts how New wires the app.
type Option func(*options)

type options struct {
	logLevel string
	player   audio.Player
	fs       afero.Fs
}

// WithLogLevel overrides logging.level (CLI commands keep the console quiet).
func WithLogLevel(level string) Option { return func(o *options) { o.logLevel = level } }

// WithPlayer replaces the process player.
func WithPlayer(p audio.Player) Option { return func(o *options) { o.player = p } }

// WithFs sets the filesystem the audio library reads from.
func WithFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs()}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	r, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logCfg := loggingConfig(cfg)
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logSvc, root := logx.New(logCfg)
	log := root.With(logx.String("comp", "app"))

	store, err := storage.Open(mapStorageConfig(cfg, r), root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	player := o.player
	if player == nil {
		lib := audio.NewLibrary(o.fs, cfg.Audio.Dir, cfg.Audio.Extensions)
		player = audio.NewProcessPlayer(lib, cfg.Audio.Command, r.StopGrace, root.With(logx.String("comp", "audio")))
	}

	if vs, ok := player.(audio.VolumeSetter); ok {
		vs.SetVolume(r.Volume)
	}

	bus := eventbus.New()
	st := newSettings(r.RepeatInterval)
	sched := bell.New(store, player, st,
		storage.NewActivityLog(store, root.With(logx.String("comp", "activity"))),
		root.With(logx.String("comp", "bell")),
		bell.Options{
			Location:      r.Location,
			MaxLateness:   r.MaxLateness,
			UpcomingLimit: r.UpcomingLimit,
			HistorySize:   r.HistorySize,
			Bus:           bus,
		})

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		player:   player,
		settings: st,
		sched:    sched,
		notify:   systemd.NewNotifier(cfg.Systemd.Notify, cfg.Systemd.Watchdog, root.With(logx.String("comp", "systemd"))),
		resolved: r,
		watch:    cfg.Storage.Watch,
	}, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func (a *App) Scheduler() *bell.Scheduler { return a.sched }
func (a *App) Store() storage.Store       { return a.store }
func (a *App) Player() audio.Player       { return a.player }
func (a *App) Logger() logx.Logger        { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start arms the triggers and runs the background loops. It returns once
// the daemon is ready.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	cfg := a.cfgm.Get()
	if cfg.Scheduler.IsEnabled() {
		if err := a.sched.Init(a.sup.Context()); err != nil {
			return fmt.Errorf("scheduler init: %w", err)
		}
	} else {
		a.log.Warn("scheduler disabled via config; no bells will ring")
	}

	a.sup.Go0("projector.refresh", func(c context.Context) {
		a.sched.Run(c, a.resolved.RefreshInterval)
	})
	a.sup.Go0("eventbus.consume", a.consumeEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if w, ok := a.store.(storage.Watcher); ok && a.watch {
		a.sup.GoRestart("storage.watch", func(c context.Context) error {
			return w.Watch(c, func() { a.reloadSchedule(c) })
		})
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.notify.Watchdog(c, a.healthy)
	})

	a.notify.Ready()
	a.notify.Status(statusLine(a.sched.Status(), time.Now()))
	a.log.Info("app started",
		logx.Int("triggers", a.sched.Status().TotalTriggers),
		logx.String("timezone", a.resolved.Location.String()),
	)
	return nil
}

// validate runs on every config reload before it is committed.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if dir := strings.TrimSpace(cfg.Audio.Dir); dir != "" {
		ok, err := afero.DirExists(afero.NewOsFs(), dir)
		if err != nil {
			return fmt.Errorf("audio.dir: %w", err)
		}
		if !ok {
			return fmt.Errorf("audio.dir: %s is not a directory", dir)
		}
	}
	return nil
}

// healthy reports whether the timer loop is alive. A runtime that has not
// produced a heartbeat in three intervals is stuck.
func (a *App) healthy() bool {
	if !a.sched.Running() {
		return true
	}
	last := a.sched.Runtime().LastHeartbeat()
	return last.IsZero() || time.Since(last) < 3*bell.HeartbeatInterval
}

// EmergencyStop silences every bell and stops the scheduler. The daemon
// keeps running; triggers come back on restart or when scheduler.enabled
// is toggled in the config.
func (a *App) EmergencyStop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.log.Warn("emergency stop requested")
	return a.sched.EmergencyStop(ctx)
}

func (a *App) setVolume(pct int) {
	if vs, ok := a.player.(audio.VolumeSetter); ok {
		vs.SetVolume(pct)
	}
}

func (a *App) reloadSchedule(ctx context.Context) {
	if !a.sched.Running() {
		return
	}
	n, err := a.sched.Reload(ctx)
	if err != nil {
		a.log.Warn("schedule reload failed", logx.Err(err))
		return
	}
	a.log.Info("schedule changed on disk; triggers re-armed", logx.Int("triggers", n))
}

func (a *App) consumeEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.logEvent(e)
			a.notify.Status(statusLine(a.sched.Status(), time.Now()))
		}
	}
}

func (a *App) logEvent(e eventbus.Event) {
	run, isRun := e.Data.(bell.Run)
	switch {
	case isRun && e.Type == eventbus.TopicBellFailed:
		a.log.Warn("bell failed", logx.String("event", run.Name), logx.String("day", string(run.Day)), logx.String("err", run.Err))
	case isRun && e.Type == eventbus.TopicBellMissed:
		a.log.Warn("bell missed", logx.String("event", run.Name), logx.Time("scheduled", run.Scheduled))
	case isRun:
		a.log.Info("bell "+strings.TrimPrefix(e.Type, "bell."), logx.String("event", run.Name), logx.String("outcome", run.Outcome), logx.Duration("took", run.Duration))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// reloadLoop applies hot config changes: logging, the repeat interval and
// scheduler.enabled. Everything else is logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub, unsubscribe := a.cfgm.Subscribe()
	defer unsubscribe()
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.NeedsRestart(oldCfg, newCfg, sections) {
		a.log.Warn("config change needs a restart to take full effect", logx.String("changed", strings.Join(sections, ",")))
	}

	a.logs.Apply(loggingConfig(newCfg))

	if r, err := config.Resolve(newCfg); err == nil {
		a.settings.set(r.RepeatInterval)
		a.setVolume(r.Volume)
	}

	prev, next := oldCfg.Scheduler.IsEnabled(), newCfg.Scheduler.IsEnabled()
	switch {
	case prev && !next:
		n := a.sched.Stop()
		a.log.Info("scheduler disabled via config", logx.Int("triggers", n))
	case !prev && next:
		var err error
		if a.sched.Status().Initialized {
			// Edits made while disabled were not armed; re-read before starting.
			if _, err = a.sched.Reload(ctx); err == nil {
				_, err = a.sched.Start()
			}
		} else {
			err = a.sched.Init(ctx)
		}
		if err != nil {
			a.log.Error("scheduler enable failed", logx.Err(err))
		} else {
			a.log.Info("scheduler enabled via config")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Close releases what New opened, for commands that never call Start.
func (a *App) Close(ctx context.Context) error {
	err := a.sched.Close(ctx)
	if cerr := a.store.Close(); cerr != nil && !errors.Is(cerr, storage.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	_ = a.logs.Close()
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close(ctx)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, a.sched.Close)
	a.step(ctx, "audio", 2*time.Second, a.player.StopAll)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	// Finally, wait for supervised goroutines (config watch/reload, projector, watchers).
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_left", c.Active), logx.Int64("panics", int64(c.Panics)))
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Any("err", err))
		}()
	}
}
