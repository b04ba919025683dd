package bell

import (
	"sync"
	"time"

	"schoolbell/internal/schedule"
)

const DefaultHistorySize = 50

type RunKind string

const (
	RunFired      RunKind = "fired"
	RunFailed     RunKind = "failed"
	RunMissed     RunKind = "missed"
	RunTested     RunKind = "tested"
	RunTestFailed RunKind = "test_failed"
)

// Run is one execution attempt of an event, fired or manual.
type Run struct {
	Kind      RunKind       `json:"kind"`
	Day       schedule.Day  `json:"day"`
	EventID   string        `json:"eventId"`
	Name      string        `json:"name"`
	Time      string        `json:"time"`
	Scheduled time.Time     `json:"scheduled,omitzero"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// history is a bounded ring of recent runs, oldest first.
type history struct {
	mu    sync.Mutex
	size  int
	items []Run
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &history{size: size}
}

func (h *history) add(r Run) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, r)
	if len(h.items) > h.size {
		h.items = append([]Run(nil), h.items[len(h.items)-h.size:]...)
	}
}

func (h *history) snapshot() []Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Run, len(h.items))
	copy(out, h.items)
	return out
}
