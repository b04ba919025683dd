package audio

import (
	"context"
	"errors"
)

var (
	ErrFileNotFound = errors.New("audio file not found")
	ErrInvalidName  = errors.New("invalid audio file name")
)

// Outcome tells how a playback that did not fail ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	// OutcomeStopped means the playback was cut short by StopAll, a newer
	// playback, or context cancellation.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Player is the audio backend used by the bell executor.
type Player interface {
	// Play blocks until the file finished playing or was stopped.
	Play(ctx context.Context, file string) (Outcome, error)
	// StopAll stops any active playback and waits for it to end.
	StopAll(ctx context.Context) error
	ListAvailable(ctx context.Context) ([]string, error)
	Playing() bool
}

// VolumeSetter is implemented by players with an adjustable output volume.
type VolumeSetter interface {
	// SetVolume takes a percentage, clamped to 0..100.
	SetVolume(pct int)
}
