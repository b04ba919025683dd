package bell

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "schoolbell/pkg/logx"

	"github.com/robfig/cron/v3"
)

// HeartbeatInterval bounds how long the cron loop sleeps. Its timers run on
// the monotonic clock, which stops during system suspend; the heartbeat makes
// the loop re-read the wall clock soon after resume.
const HeartbeatInterval = 30 * time.Second

// Runtime is the single cron instance shared by every Trigger. Callbacks run
// on their own goroutines, so triggers never serialize each other.
type Runtime struct {
	c   *cron.Cron
	loc *time.Location
	log logx.Logger

	mu      sync.Mutex
	started bool
	beatID  cron.EntryID
	onBeat  func()
	lastHB  atomic.Int64 // unix nanos of the last heartbeat
}

// NewRuntime creates a stopped runtime evaluating schedules in loc
// (time.Local when nil).
func NewRuntime(loc *time.Location, log logx.Logger) *Runtime {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	r := &Runtime{
		loc: loc,
		log: log,
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
	r.beatID = r.c.Schedule(cron.Every(HeartbeatInterval), cron.FuncJob(r.heartbeat))
	return r
}

// OnHeartbeat installs fn to run on every heartbeat tick (systemd watchdog).
func (r *Runtime) OnHeartbeat(fn func()) {
	r.mu.Lock()
	r.onBeat = fn
	r.mu.Unlock()
}

func (r *Runtime) heartbeat() {
	r.lastHB.Store(time.Now().UnixNano())
	r.mu.Lock()
	fn := r.onBeat
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// LastHeartbeat is zero until the first tick.
func (r *Runtime) LastHeartbeat() time.Time {
	n := r.lastHB.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (r *Runtime) Location() *time.Location { return r.loc }

// Start is idempotent.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c.Start()
	r.log.Debug("timer runtime started", logx.String("tz", r.loc.String()))
}

// Stop halts the runtime and waits for running callbacks until ctx ends.
func (r *Runtime) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
		r.log.Warn("timer runtime stop timed out; callbacks still running")
	}
}

// Entries counts bell entries, excluding the heartbeat.
func (r *Runtime) Entries() int {
	n := len(r.c.Entries())
	if n > 0 {
		n--
	}
	return n
}

func (r *Runtime) schedule(s cron.Schedule, fn func()) cron.EntryID {
	return r.c.Schedule(s, cron.FuncJob(fn))
}

func (r *Runtime) remove(id cron.EntryID) { r.c.Remove(id) }

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
