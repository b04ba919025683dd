package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is a wall-clock time in the host timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS". Seconds default to 0.
// Extra colon-separated fields beyond the third are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeOfDay{}, fmt.Errorf("time required")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		sec, err = strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

func (t TimeOfDay) SecondsOfDay() int { return t.Hour*3600 + t.Minute*60 + t.Second }

// String renders HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}
