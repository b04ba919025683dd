package bell

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"schoolbell/internal/audio"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

func TestExecuteOrdersStepsAndRepeats(t *testing.T) {
	t.Parallel()
	p := newFakePlayer("a.mp3", "b.mp3")
	ex := NewExecutor(p, FixedSettings(time.Second), logx.Nop())

	res, err := ex.Execute(context.Background(), []schedule.AudioStep{step("a.mp3", 2), step("b.mp3", 1)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != audio.OutcomeCompleted || res.Played != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got, want := p.plays(), []string{"a.mp3", "a.mp3", "b.mp3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("play order = %v, want %v", got, want)
	}
	if gap := p.at[1].Sub(p.at[0]); gap < 900*time.Millisecond {
		t.Fatalf("gap between repeats = %s, want ~1s", gap)
	}
	if gap := p.at[2].Sub(p.at[1]); gap > 500*time.Millisecond {
		t.Fatalf("next step waited %s; the delay applies between repeats only", gap)
	}
}

func TestExecuteStepFailureAbortsRest(t *testing.T) {
	t.Parallel()
	p := newFakePlayer()
	p.failing["bad.mp3"] = errDevice
	ex := NewExecutor(p, FixedSettings(time.Millisecond), logx.Nop())

	_, err := ex.Execute(context.Background(), []schedule.AudioStep{step("a.mp3", 1), step("bad.mp3", 3), step("c.mp3", 1)})
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StepError", err)
	}
	if se.Index != 1 || se.File != "bad.mp3" || !errors.Is(err, errDevice) {
		t.Fatalf("unexpected step error %+v", se)
	}
	if got := p.plays(); !reflect.DeepEqual(got, []string{"a.mp3", "bad.mp3"}) {
		t.Fatalf("plays = %v", got)
	}
}

func TestExecuteStoppedPlaybackEndsSequence(t *testing.T) {
	t.Parallel()
	p := newFakePlayer()
	p.blocking["long.mp3"] = true
	ex := NewExecutor(p, FixedSettings(time.Millisecond), logx.Nop())

	done := make(chan Result, 1)
	go func() {
		res, err := ex.Execute(context.Background(), []schedule.AudioStep{step("long.mp3", 1), step("after.mp3", 1)})
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		done <- res
	}()
	if err := p.waitStarted("long.mp3", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := p.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-done:
		if res.Outcome != audio.OutcomeStopped {
			t.Fatalf("outcome = %v", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
	}
	if got := p.plays(); !reflect.DeepEqual(got, []string{"long.mp3"}) {
		t.Fatalf("plays = %v; nothing may follow a stopped step", got)
	}
}

func TestCancelAllInterruptsRepeatWait(t *testing.T) {
	t.Parallel()
	p := newFakePlayer()
	ex := NewExecutor(p, FixedSettings(10*time.Second), logx.Nop())

	done := make(chan Result, 1)
	go func() {
		res, _ := ex.Execute(context.Background(), []schedule.AudioStep{step("a.mp3", 3)})
		done <- res
	}()
	if err := p.waitStarted("a.mp3", 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if !eventually(time.Second, func() bool { return ex.Active() == 1 }) {
		t.Fatal("sequence not tracked as active")
	}
	if n := ex.CancelAll(); n != 1 {
		t.Fatalf("CancelAll = %d, want 1", n)
	}
	select {
	case res := <-done:
		if res.Outcome != audio.OutcomeStopped || res.Played != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute kept waiting after CancelAll")
	}
	if ex.Active() != 0 {
		t.Fatalf("Active = %d after return", ex.Active())
	}
}

func TestValidateListsEveryMissingFile(t *testing.T) {
	t.Parallel()
	p := newFakePlayer("a.mp3")
	ex := NewExecutor(p, nil, logx.Nop())

	err := ex.Validate(context.Background(), []schedule.AudioStep{
		step("x.mp3", 1), step("a.mp3", 1), step("y.mp3", 2), step("x.mp3", 1),
	})
	var mf *MissingFilesError
	if !errors.As(err, &mf) {
		t.Fatalf("err = %v, want *MissingFilesError", err)
	}
	if !reflect.DeepEqual(mf.Files, []string{"x.mp3", "y.mp3"}) {
		t.Fatalf("missing = %v", mf.Files)
	}
	if err.Error() != "missing audio files: x.mp3, y.mp3" {
		t.Fatalf("message = %q", err.Error())
	}
	if !errors.Is(ex.Validate(context.Background(), nil), ErrNoAudio) {
		t.Fatal("empty sequence should fail validation")
	}
}

func TestTestExecuteFailsBeforePlaying(t *testing.T) {
	t.Parallel()
	p := newFakePlayer("a.mp3")
	ex := NewExecutor(p, nil, logx.Nop())
	if _, err := ex.TestExecute(context.Background(), []schedule.AudioStep{step("a.mp3", 1), step("gone.mp3", 1)}); err == nil {
		t.Fatal("expected missing file error")
	}
	if len(p.plays()) != 0 {
		t.Fatalf("played %v despite failed validation", p.plays())
	}
	if _, err := ex.TestExecute(context.Background(), []schedule.AudioStep{step("a.mp3", 1)}); err != nil {
		t.Fatalf("TestExecute: %v", err)
	}
}

func TestRepeatIntervalDefault(t *testing.T) {
	t.Parallel()
	if d := NewExecutor(newFakePlayer(), FixedSettings(0), logx.Nop()).repeatInterval(); d != DefaultRepeatInterval {
		t.Fatalf("repeatInterval = %s, want %s", d, DefaultRepeatInterval)
	}
}

func TestCancelAllDropsRunsNotYetStarted(t *testing.T) {
	t.Parallel()
	p := newFakePlayer("a.mp3")
	ex := NewExecutor(p, FixedSettings(time.Millisecond), logx.Nop())

	epoch := ex.Epoch()
	if n := ex.CancelAll(); n != 0 {
		t.Fatalf("CancelAll = %d, want 0 in flight", n)
	}
	res, err := ex.ExecuteSince(context.Background(), epoch, []schedule.AudioStep{step("a.mp3", 2)})
	if err != nil || res.Outcome != audio.OutcomeStopped || res.Played != 0 {
		t.Fatalf("ExecuteSince = %+v, %v", res, err)
	}
	if got := p.plays(); len(got) != 0 {
		t.Fatalf("plays = %v", got)
	}

	if res, err := ex.Execute(context.Background(), []schedule.AudioStep{step("a.mp3", 1)}); err != nil || res.Played != 1 {
		t.Fatalf("Execute after CancelAll = %+v, %v", res, err)
	}
}
