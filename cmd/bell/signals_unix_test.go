//go:build !windows

package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"schoolbell/internal/app"
	logx "schoolbell/pkg/logx"
)

type fakeDaemon struct {
	done  chan struct{}
	stops chan struct{}
}

func (f *fakeDaemon) Done() <-chan struct{} { return f.done }
func (f *fakeDaemon) Logger() logx.Logger   { return logx.Nop() }
func (f *fakeDaemon) EmergencyStop(context.Context) error {
	f.stops <- struct{}{}
	return nil
}

func TestEmergencySignalKeepsDaemonRunning(t *testing.T) {
	d := &fakeDaemon{done: make(chan struct{}), stops: make(chan struct{}, 2)}
	sigs := make(chan os.Signal, 2)
	got := make(chan app.StopReason, 1)
	go func() { got <- waitForStop(d, sigs) }()

	sigs <- syscall.SIGUSR1
	select {
	case <-d.stops:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGUSR1 did not trigger an emergency stop")
	}
	select {
	case r := <-got:
		t.Fatalf("daemon returned %q after emergency stop", r)
	case <-time.After(100 * time.Millisecond):
	}

	sigs <- syscall.SIGTERM
	select {
	case r := <-got:
		if r != app.StopSIGTERM {
			t.Fatalf("reason = %q, want %q", r, app.StopSIGTERM)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM did not stop the daemon")
	}
}

func TestWaitForStopReportsDeadDaemon(t *testing.T) {
	d := &fakeDaemon{done: make(chan struct{}), stops: make(chan struct{}, 1)}
	close(d.done)
	if r := waitForStop(d, make(chan os.Signal)); r != app.StopFatalError {
		t.Fatalf("reason = %q, want %q", r, app.StopFatalError)
	}
}
