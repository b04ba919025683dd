package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"schoolbell/internal/bell"
	"schoolbell/internal/schedule"
)

func countdown(at, now time.Time) string {
	return humanize.RelTime(at, now, "ago", "from now")
}

func printOccurrences(w io.Writer, occ []bell.Occurrence, now time.Time) {
	if len(occ) == 0 {
		fmt.Fprintln(w, "no bells in the next 7 days")
		return
	}
	for _, o := range occ {
		fmt.Fprintf(w, "%-9s %-8s %-24s %s\n", o.Day, o.Time, o.Name, countdown(o.At, now))
	}
}

func printToday(w io.Writer, evs []bell.TodayEvent) {
	if len(evs) == 0 {
		fmt.Fprintln(w, "no bells today")
		return
	}
	for _, ev := range evs {
		mark := " "
		switch {
		case ev.IsNext:
			mark = ">"
		case ev.IsPast:
			mark = "x"
		}
		state := ""
		if !ev.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "%s %-8s %s%s\n", mark, ev.Time, ev.Name, state)
	}
}

func printEvents(w io.Writer, day schedule.Day, evs []schedule.Event) {
	for _, ev := range evs {
		state := "on"
		if !ev.Enabled {
			state = "off"
		}
		fmt.Fprintf(w, "%-9s %-8s %-3s %-36s %s  [%s]\n", day, ev.Time, state, ev.ID, ev.Name, describeSequence(ev.AudioSequence))
	}
}

func describeSequence(seq []schedule.AudioStep) string {
	if len(seq) == 0 {
		return "no audio"
	}
	parts := make([]string, 0, len(seq))
	for _, s := range seq {
		if n := s.Times(); n > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d", s.AudioFile, n))
		} else {
			parts = append(parts, s.AudioFile)
		}
	}
	return strings.Join(parts, ", ")
}

func printStats(w io.Writer, st bell.Statistics) {
	fmt.Fprintf(w, "events:   %s (enabled: %s, disabled: %s)\n",
		humanize.Comma(int64(st.TotalEvents)), humanize.Comma(int64(st.EnabledEvents)), humanize.Comma(int64(st.DisabledEvents)))
	for _, d := range schedule.Days {
		fmt.Fprintf(w, "  %-9s %d\n", d, st.EventsPerDay[d])
	}
	fmt.Fprintf(w, "triggers: %d (running: %t)\n", st.ActiveTriggers, st.Running)
}
