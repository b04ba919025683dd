package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"schoolbell/internal/app"
	"schoolbell/internal/schedule"
)

var eventCommands = []cli.Command{
	{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "list events, optionally for one day",
		UsageText: "bell events list [day]",
		Action:    listEvents,
	},
	{
		Name:      "add",
		Usage:     "add an event",
		UsageText: "bell events add --day monday --name \"Period 1\" --time 08:00 --audio bell.mp3:2",
		Action:    addEvent,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "day, d", Usage: "day of week"},
			cli.StringFlag{Name: "name", Usage: "event name"},
			cli.StringFlag{Name: "time, t", Usage: "time of day, HH:MM or HH:MM:SS"},
			cli.StringSliceFlag{Name: "audio, a", Usage: "audio step FILE[:REPEAT], in play order"},
			cli.StringFlag{Name: "notes", Usage: "free-form notes"},
			cli.BoolFlag{Name: "disabled", Usage: "store the event disabled"},
		},
	},
	{
		Name:      "enable",
		Usage:     "enable an event",
		UsageText: "bell events enable <day> <event-id>",
		Action:    func(c *cli.Context) error { return setEnabled(c, true) },
	},
	{
		Name:      "disable",
		Usage:     "disable an event",
		UsageText: "bell events disable <day> <event-id>",
		Action:    func(c *cli.Context) error { return setEnabled(c, false) },
	},
	{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "delete an event",
		UsageText: "bell events remove <day> <event-id>",
		Action:    removeEvent,
	},
}

func listEvents(c *cli.Context) error {
	days := schedule.Days[:]
	if c.NArg() > 0 {
		d, err := schedule.ParseDay(c.Args().First())
		if err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
		days = []schedule.Day{d}
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		weekly, err := a.Store().GetAllSchedules(ctx)
		if err != nil {
			return err
		}
		for _, d := range days {
			printEvents(c.App.Writer, d, weekly[d])
		}
		return nil
	})
}

func addEvent(c *cli.Context) error {
	day, err := schedule.ParseDay(c.String("day"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	seq := make([]schedule.AudioStep, 0, len(c.StringSlice("audio")))
	for _, raw := range c.StringSlice("audio") {
		st, err := parseStep(raw)
		if err != nil {
			return cli.NewExitError(err.Error(), 2)
		}
		seq = append(seq, st)
	}
	ev := schedule.Event{
		Name:          c.String("name"),
		Time:          c.String("time"),
		Enabled:       !c.Bool("disabled"),
		AudioSequence: seq,
		Notes:         c.String("notes"),
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		stored, err := a.Store().AddEvent(ctx, day, ev)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "added %s on %s at %s (id %s)\n", stored.Name, day, stored.Time, stored.ID)
		return nil
	})
}

// parseStep reads FILE or FILE:REPEAT.
func parseStep(raw string) (schedule.AudioStep, error) {
	raw = strings.TrimSpace(raw)
	file, rep := raw, 1
	if i := strings.LastIndex(raw, ":"); i > 0 {
		n, err := strconv.Atoi(raw[i+1:])
		if err != nil || n < 1 {
			return schedule.AudioStep{}, fmt.Errorf("audio step %q: repeat must be a positive integer", raw)
		}
		file, rep = raw[:i], n
	}
	if file == "" {
		return schedule.AudioStep{}, fmt.Errorf("audio step %q: file is empty", raw)
	}
	return schedule.AudioStep{AudioFile: file, Repeat: rep}, nil
}

func dayAndID(c *cli.Context) (schedule.Day, string, error) {
	if c.NArg() != 2 {
		return "", "", cli.NewExitError("expected <day> <event-id>", 2)
	}
	day, err := schedule.ParseDay(c.Args().Get(0))
	if err != nil {
		return "", "", cli.NewExitError(err.Error(), 2)
	}
	return day, c.Args().Get(1), nil
}

func setEnabled(c *cli.Context, enabled bool) error {
	day, id, err := dayAndID(c)
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		ev, err := a.Store().UpdateEvent(ctx, day, id, schedule.EventPatch{Enabled: &enabled})
		if err != nil {
			return err
		}
		state := "disabled"
		if ev.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(c.App.Writer, "%s %s\n", state, ev.Name)
		return nil
	})
}

func removeEvent(c *cli.Context) error {
	day, id, err := dayAndID(c)
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if err := a.Store().DeleteEvent(ctx, day, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "removed %s from %s\n", id, day)
		return nil
	})
}
