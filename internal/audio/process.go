package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	logx "schoolbell/pkg/logx"
)

const (
	FilePlaceholder = "{file}"
	// VolumePlaceholder is the volume in percent, 0..100.
	VolumePlaceholder = "{volume}"
	// GainPlaceholder is the volume as a fraction, 0.00..1.00.
	GainPlaceholder = "{gain}"
	// PulsePlaceholder is the volume on the PulseAudio scale, 0..65536.
	PulsePlaceholder = "{pa_volume}"

	DefaultStopGrace = time.Second
	DefaultVolume    = 80
)

const windowsPlayScript = `Add-Type -AssemblyName presentationCore; ` +
	`$p = New-Object System.Windows.Media.MediaPlayer; $p.Open([uri]'{file}'); $p.Volume = {gain}; $p.Play(); ` +
	`while (-not $p.NaturalDuration.HasTimeSpan) { Start-Sleep -Milliseconds 100 }; ` +
	`Start-Sleep -Milliseconds ([int]$p.NaturalDuration.TimeSpan.TotalMilliseconds); $p.Close()`

// DefaultCommand returns the player argv for goos.
func DefaultCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"afplay", "-v", GainPlaceholder, FilePlaceholder}
	case "windows":
		return []string{"powershell", "-NoProfile", "-NonInteractive", "-Command", windowsPlayScript}
	default:
		return []string{"paplay", "--volume=" + PulsePlaceholder, FilePlaceholder}
	}
}

// ProcessPlayer plays files by running an external command.
type ProcessPlayer struct {
	lib   *Library
	argv  []string
	grace time.Duration
	log   logx.Logger

	volume atomic.Int32

	// startMu serialises preempt, start and register so at most one
	// process is ever tracked and running.
	startMu sync.Mutex
	// gen advances on every StopAll; a Play that began under an older
	// generation does not start its process.
	gen atomic.Uint64

	mu  sync.Mutex
	cur *playback
}

type playback struct {
	file    string
	cmd     *exec.Cmd
	done    chan struct{}
	err     error
	stopped atomic.Bool
}

// NewProcessPlayer builds a player. An empty argv selects DefaultCommand;
// when no argument contains FilePlaceholder the file path is appended.
func NewProcessPlayer(lib *Library, argv []string, grace time.Duration, log logx.Logger) *ProcessPlayer {
	if len(argv) == 0 {
		argv = DefaultCommand(runtime.GOOS)
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &ProcessPlayer{lib: lib, argv: append([]string(nil), argv...), grace: grace, log: log}
	p.volume.Store(DefaultVolume)
	return p
}

// SetVolume sets the volume, clamped to 0..100, for playbacks started afterwards.
func (p *ProcessPlayer) SetVolume(pct int) {
	p.volume.Store(int32(min(max(pct, 0), 100)))
}

func (p *ProcessPlayer) Volume() int { return int(p.volume.Load()) }

func (p *ProcessPlayer) ListAvailable(ctx context.Context) ([]string, error) {
	return p.lib.List(ctx)
}

func (p *ProcessPlayer) commandFor(path string) []string {
	vol := p.Volume()
	r := strings.NewReplacer(
		VolumePlaceholder, strconv.Itoa(vol),
		GainPlaceholder, strconv.FormatFloat(float64(vol)/100, 'f', 2, 64),
		PulsePlaceholder, strconv.Itoa(vol*65536/100),
	)
	out := make([]string, 0, len(p.argv)+1)
	replaced := false
	for _, a := range p.argv {
		a = r.Replace(a)
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

// Play preempts whatever is playing, then plays file to the end.
func (p *ProcessPlayer) Play(ctx context.Context, file string) (Outcome, error) {
	gen := p.gen.Load()
	path, err := p.lib.Resolve(file)
	if err != nil {
		return OutcomeCompleted, err
	}
	pb, err := p.start(ctx, gen, file, path)
	if err != nil {
		return OutcomeCompleted, err
	}
	if pb == nil {
		return OutcomeStopped, nil
	}
	p.log.Debug("playback started", logx.String("file", file), logx.Int("pid", pb.cmd.Process.Pid))

	select {
	case <-pb.done:
	case <-ctx.Done():
		p.terminate(pb)
	}

	p.mu.Lock()
	if p.cur == pb {
		p.cur = nil
	}
	p.mu.Unlock()

	if pb.stopped.Load() {
		return OutcomeStopped, nil
	}
	if pb.err != nil {
		return OutcomeCompleted, fmt.Errorf("play %s: %w", file, pb.err)
	}
	return OutcomeCompleted, nil
}

// start stops the current playback and launches the next one as one step.
// It returns nil when ctx ended or a StopAll happened since gen was read.
func (p *ProcessPlayer) start(ctx context.Context, gen uint64, file, path string) (*playback, error) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if cur := p.current(); cur != nil {
		p.terminate(cur)
	}
	if ctx.Err() != nil || p.gen.Load() != gen {
		return nil, nil
	}

	argv := p.commandFor(path)
	pb := &playback{file: file, cmd: exec.Command(argv[0], argv[1:]...), done: make(chan struct{})}
	if err := pb.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player for %s: %w", file, err)
	}
	go func() {
		pb.err = pb.cmd.Wait()
		close(pb.done)
	}()

	p.mu.Lock()
	p.cur = pb
	p.mu.Unlock()
	return pb, nil
}

func (p *ProcessPlayer) current() *playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// StopAll terminates the active playback, escalating to a kill after the
// grace period, and returns once the process has exited. Plays already
// requested but not yet started are abandoned.
func (p *ProcessPlayer) StopAll(ctx context.Context) error {
	p.gen.Add(1)
	// Wait out a start in progress so its process is visible in cur.
	p.startMu.Lock()
	pb := p.current()
	p.startMu.Unlock()
	if pb == nil {
		return nil
	}
	finished := make(chan struct{})
	go func() {
		p.terminate(pb)
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ProcessPlayer) Playing() bool {
	pb := p.current()
	if pb == nil {
		return false
	}
	select {
	case <-pb.done:
		return false
	default:
		return true
	}
}

func (p *ProcessPlayer) terminate(pb *playback) {
	select {
	case <-pb.done:
		return
	default:
	}
	pb.stopped.Store(true)
	if err := pb.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// no SIGTERM on windows
		_ = pb.cmd.Process.Kill()
	}
	t := time.NewTimer(p.grace)
	defer t.Stop()
	select {
	case <-pb.done:
		return
	case <-t.C:
	}
	p.log.Warn("player ignored SIGTERM; killing", logx.String("file", pb.file), logx.Duration("grace", p.grace))
	_ = pb.cmd.Process.Kill()
	<-pb.done
}
