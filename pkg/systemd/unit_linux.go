//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// GetUnitStatus looks up a unit over the system bus. A missing unit is
// reported with LoadState "not-found" and no error.
func GetUnitStatus(ctx context.Context, unit string) (*UnitStatus, error) {
	unit = unitName(unit)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	st := &UnitStatus{Name: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return nil, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	for _, u := range units {
		if u.Name != unit {
			continue
		}
		if u.LoadState == "not-found" {
			return st, nil
		}
		st.Active, st.SubState, st.LoadState, st.Description = u.ActiveState, u.SubState, u.LoadState, u.Description
	}
	if st.LoadState == "not-found" {
		return st, nil
	}

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err == nil {
		key := "ActiveEnterTimestamp"
		if st.Active != "active" {
			key = "InactiveEnterTimestamp"
		}
		st.Since = parseTimestamp(props, key)
	}
	return st, nil
}

// RestartUnit restarts unit and waits for the job result.
func RestartUnit(ctx context.Context, unit string) error {
	unit = unitName(unit)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("restart %s: job %s", unit, result)
		}
		return nil
	}
}

func unitName(unit string) string {
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.UnixMicro(int64(ts))
	}
	return time.Time{}
}
