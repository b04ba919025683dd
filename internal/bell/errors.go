package bell

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDestroyed      = errors.New("scheduler destroyed")
	ErrNotInitialized = errors.New("scheduler not initialized")
	ErrNoAudio        = errors.New("event has no audio sequence to test")
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// MissingFilesError lists every referenced audio file absent from the
// library, not just the first.
type MissingFilesError struct {
	Files []string
}

func (e *MissingFilesError) Error() string {
	return "missing audio files: " + strings.Join(e.Files, ", ")
}

// StepError reports the sequence step whose playback failed. Later steps
// were not played.
type StepError struct {
	Index int // zero-based
	File  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.File, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
