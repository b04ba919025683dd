package app

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"schoolbell/internal/bell"
)

// statusLine renders the systemd STATUS= text.
func statusLine(st bell.Status, now time.Time) string {
	if !st.Running {
		return fmt.Sprintf("scheduler %s", st.State)
	}
	if len(st.NextEvents) == 0 {
		return fmt.Sprintf("%d bells armed; nothing in the next 7 days", st.TotalTriggers)
	}
	next := st.NextEvents[0]
	return fmt.Sprintf("%d bells armed; next %q %s %s (%s)",
		st.TotalTriggers, next.Name, next.Day, next.Time,
		humanize.RelTime(next.At, now, "ago", "from now"))
}
