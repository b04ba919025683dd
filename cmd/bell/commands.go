package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"schoolbell/internal/app"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// withApp opens the configured store and scheduler without starting the
// daemon loops, runs fn, then closes everything.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(c.GlobalString("config"), app.WithLogLevel("error"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_ = a.Close(closeCtx)
	}()
	if err := fn(ctx, a); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func runDaemon(c *cli.Context) error {
	a, err := app.New(c.GlobalString("config"))
	if err != nil {
		// The configured sinks do not exist yet; report on the console.
		logx.NewConsole("info").Error("bell daemon failed to start",
			logx.String("config", c.GlobalString("config")), logx.Err(err))
		return cli.NewExitError(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, emergencySignals...)...)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return cli.NewExitError("start: "+err.Error(), 1)
	}

	reason := waitForStop(a, sigs)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

type daemon interface {
	Done() <-chan struct{}
	EmergencyStop(ctx context.Context) error
	Logger() logx.Logger
}

// waitForStop blocks until a shutdown signal arrives or the daemon dies.
// Emergency signals silence the bells and keep waiting.
func waitForStop(d daemon, sigs <-chan os.Signal) app.StopReason {
	for {
		select {
		case sig := <-sigs:
			switch {
			case isEmergencySignal(sig):
				if err := d.EmergencyStop(context.Background()); err != nil {
					d.Logger().Error("emergency stop failed", logx.Err(err))
				}
			case sig == os.Interrupt:
				return app.StopSIGINT
			default:
				return app.StopSIGTERM
			}
		case <-d.Done():
			return app.StopFatalError
		}
	}
}

func isEmergencySignal(sig os.Signal) bool {
	for _, s := range emergencySignals {
		if sig == s {
			return true
		}
	}
	return false
}

func nextBells(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		occ, err := a.Scheduler().NextEvents(ctx, c.Int("count"))
		if err != nil {
			return err
		}
		printOccurrences(c.App.Writer, occ, time.Now())
		return nil
	})
}

func todayBells(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		evs, err := a.Scheduler().TodayEvents(ctx)
		if err != nil {
			return err
		}
		printToday(c.App.Writer, evs)
		return nil
	})
}

func stats(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		st, err := a.Scheduler().Statistics(ctx)
		if err != nil {
			return err
		}
		printStats(c.App.Writer, st)
		return nil
	})
}

func testBell(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("usage: bell test <day> <event-id>", 2)
	}
	day, err := schedule.ParseDay(c.Args().Get(0))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	id := c.Args().Get(1)
	return withApp(c, func(ctx context.Context, a *app.App) error {
		ev, err := findEvent(ctx, a, day, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "playing %q: %s\n", ev.Name, describeSequence(ev.AudioSequence))
		res, err := a.Scheduler().TestEvent(ctx, day, ev)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s after %d plays\n", res.Outcome, res.Played)
		return nil
	})
}

func findEvent(ctx context.Context, a *app.App, day schedule.Day, id string) (schedule.Event, error) {
	evs, err := a.Store().GetSchedule(ctx, day)
	if err != nil {
		return schedule.Event{}, err
	}
	for _, ev := range evs {
		if ev.ID == id {
			return ev, nil
		}
	}
	return schedule.Event{}, fmt.Errorf("no event %s on %s", id, day)
}

func sounds(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		files, err := a.Player().ListAvailable(ctx)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return errors.New("no audio files found")
		}
		for _, f := range files {
			fmt.Fprintln(c.App.Writer, f)
		}
		return nil
	})
}

func activity(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		entries, err := a.Store().RecentActivity(ctx, c.Int("count"))
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			fmt.Fprintf(c.App.Writer, "%-16s %-26s %s\n", countdown(e.At, now), e.Type, e.Message)
		}
		return nil
	})
}
