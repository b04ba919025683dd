package storage

import (
	"context"
	"errors"
	"time"

	"schoolbell/internal/schedule"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

const DefaultMaxLogEntries = 1000

// Config configures storage.
//
// Driver values:
//   - "file": JSON document (default)
//   - "sqlite": SQLite database file
type Config struct {
	Driver        string
	Path          string
	BusyTimeout   time.Duration // sqlite only; 0 means default
	MaxLogEntries int           // 0 means DefaultMaxLogEntries
}

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	ID      string         `json:"id"`
	At      time.Time      `json:"timestamp"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Store is the persistence API used by the scheduler and the CLI.
type Store interface {
	GetAllSchedules(ctx context.Context) (schedule.Weekly, error)
	GetSchedule(ctx context.Context, day schedule.Day) ([]schedule.Event, error)

	// AddEvent assigns a fresh id and timestamps; the stored event is returned.
	AddEvent(ctx context.Context, day schedule.Day, ev schedule.Event) (schedule.Event, error)
	UpdateEvent(ctx context.Context, day schedule.Day, id string, patch schedule.EventPatch) (schedule.Event, error)
	DeleteEvent(ctx context.Context, day schedule.Day, id string) error

	LogActivity(ctx context.Context, typ, message string, details map[string]any) error
	// RecentActivity returns up to limit entries, newest first.
	RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error)

	Close() error
}

// Watcher is implemented by stores that can report external edits.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

func maxLogs(cfg Config) int {
	if cfg.MaxLogEntries > 0 {
		return cfg.MaxLogEntries
	}
	return DefaultMaxLogEntries
}
