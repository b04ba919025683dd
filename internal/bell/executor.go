package bell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schoolbell/internal/audio"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

const DefaultRepeatInterval = 3 * time.Second

// Settings supplies live playback settings.
type Settings interface {
	RepeatInterval() time.Duration
}

// FixedSettings is a constant Settings.
type FixedSettings time.Duration

func (f FixedSettings) RepeatInterval() time.Duration { return time.Duration(f) }

// Result summarises one sequence run.
type Result struct {
	Outcome audio.Outcome
	Played  int // completed or stopped plays
}

// Executor plays audio sequences. Steps and repeats of one sequence never
// overlap; separate sequences are independent.
type Executor struct {
	player   audio.Player
	settings Settings
	log      logx.Logger

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
	seq      uint64
	// epoch advances on CancelAll. A run that captured an older epoch
	// never starts.
	epoch uint64
}

func NewExecutor(player audio.Player, settings Settings, log logx.Logger) *Executor {
	if settings == nil {
		settings = FixedSettings(DefaultRepeatInterval)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{player: player, settings: settings, log: log, inflight: map[uint64]context.CancelFunc{}}
}

func (e *Executor) repeatInterval() time.Duration {
	if d := e.settings.RepeatInterval(); d > 0 {
		return d
	}
	return DefaultRepeatInterval
}

// Epoch identifies the current CancelAll generation.
func (e *Executor) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// track registers cancel unless a CancelAll happened after epoch.
func (e *Executor) track(epoch uint64, cancel context.CancelFunc) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return 0, false
	}
	e.seq++
	e.inflight[e.seq] = cancel
	return e.seq, true
}

func (e *Executor) untrack(id uint64) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

// Execute plays seq in order. A failing step aborts the rest and is returned
// as *StepError. A stopped playback or a cancelled ctx ends the run with
// OutcomeStopped and no error.
func (e *Executor) Execute(ctx context.Context, seq []schedule.AudioStep) (Result, error) {
	return e.ExecuteSince(ctx, e.Epoch(), seq)
}

// ExecuteSince is Execute for a run requested at epoch: if CancelAll was
// called since, nothing plays and the outcome is OutcomeStopped.
func (e *Executor) ExecuteSince(ctx context.Context, epoch uint64, seq []schedule.AudioStep) (Result, error) {
	res := Result{Outcome: audio.OutcomeCompleted}
	stopped := func() (Result, error) {
		res.Outcome = audio.OutcomeStopped
		return res, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id, ok := e.track(epoch, cancel)
	if !ok {
		return stopped()
	}
	defer e.untrack(id)

	delay := e.repeatInterval()

	for i, step := range seq {
		for rep := 0; rep < step.Times(); rep++ {
			if rep > 0 && !sleepCtx(ctx, delay) {
				return stopped()
			}
			if ctx.Err() != nil {
				return stopped()
			}
			out, err := e.player.Play(ctx, step.AudioFile)
			if err != nil {
				if ctx.Err() != nil {
					return stopped()
				}
				return res, &StepError{Index: i, File: step.AudioFile, Err: err}
			}
			res.Played++
			if out == audio.OutcomeStopped {
				return stopped()
			}
		}
	}
	return res, nil
}

// Validate checks the sequence is non-empty and that every referenced file
// is in the library.
func (e *Executor) Validate(ctx context.Context, seq []schedule.AudioStep) error {
	if len(seq) == 0 {
		return ErrNoAudio
	}
	avail, err := e.player.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("list audio files: %w", err)
	}
	have := make(map[string]struct{}, len(avail))
	for _, f := range avail {
		have[f] = struct{}{}
	}
	var missing []string
	seen := map[string]struct{}{}
	for _, st := range seq {
		if _, ok := have[st.AudioFile]; ok {
			continue
		}
		if _, dup := seen[st.AudioFile]; dup {
			continue
		}
		seen[st.AudioFile] = struct{}{}
		missing = append(missing, st.AudioFile)
	}
	if len(missing) > 0 {
		return &MissingFilesError{Files: missing}
	}
	return nil
}

// TestExecute is Validate followed by Execute; nothing plays when
// validation fails.
func (e *Executor) TestExecute(ctx context.Context, seq []schedule.AudioStep) (Result, error) {
	if err := e.Validate(ctx, seq); err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, seq)
}

// CancelAll aborts every running sequence and returns how many there were.
// No further step or repeat of those sequences starts afterwards, and runs
// requested before the call but not yet started are dropped.
func (e *Executor) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	n := len(e.inflight)
	for _, cancel := range e.inflight {
		cancel()
	}
	return n
}

// Active counts running sequences.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
