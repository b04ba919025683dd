// Package systemd integrates the daemon with systemd: readiness and status
// notifications, the service watchdog and unit status lookups for the CLI.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "schoolbell/pkg/logx"
)

// Notifier sends sd_notify messages. Every method is a no-op when
// notifications are disabled or NOTIFY_SOCKET is unset.
type Notifier struct {
	enabled  bool
	watchdog bool
	log      logx.Logger
}

func NewNotifier(notify, watchdog bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: notify, watchdog: notify && watchdog, log: log}
}

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Status sets the one-line status shown by `systemctl status`.
func (n *Notifier) Status(text string) bool { return n.send("STATUS=" + text) }

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// WatchdogInterval is the WatchdogSec of the unit, or 0 when the watchdog
// is off for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.watchdog {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
		return 0
	}
	return d
}

// Watchdog pings systemd at half the watchdog interval while healthy
// reports true, until ctx ends. A stalled timer loop therefore gets the
// service restarted.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	interval := n.WatchdogInterval()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping watchdog ping; scheduler unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
