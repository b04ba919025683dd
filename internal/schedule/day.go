package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Day is a lower-case weekday name used as the schedule bucket key.
type Day string

const (
	Sunday    Day = "sunday"
	Monday    Day = "monday"
	Tuesday   Day = "tuesday"
	Wednesday Day = "wednesday"
	Thursday  Day = "thursday"
	Friday    Day = "friday"
	Saturday  Day = "saturday"
)

// Days lists all buckets in time.Weekday order (Sunday first).
var Days = [7]Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// ParseDay accepts a weekday name in any case.
func ParseDay(s string) (Day, error) {
	d := Day(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := d.weekday(); !ok {
		return "", fmt.Errorf("unknown day %q", s)
	}
	return d, nil
}

// DayOf maps a time.Weekday to its bucket.
func DayOf(wd time.Weekday) Day {
	return Days[int(wd)%7]
}

// Valid reports whether d is one of the seven bucket names.
func (d Day) Valid() bool {
	_, ok := d.weekday()
	return ok
}

// Weekday returns the time.Weekday for d. It panics on an invalid day; use Valid first.
func (d Day) Weekday() time.Weekday {
	wd, ok := d.weekday()
	if !ok {
		panic(fmt.Sprintf("schedule: invalid day %q", string(d)))
	}
	return wd
}

func (d Day) weekday() (time.Weekday, bool) {
	for i, x := range Days {
		if x == d {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

func (d Day) String() string { return string(d) }
