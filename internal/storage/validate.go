package storage

import (
	"errors"
	"fmt"
	"strings"

	"schoolbell/internal/schedule"
)

var ErrInvalid = errors.New("invalid event")

func validateEvent(ev schedule.Event) error {
	if strings.TrimSpace(ev.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if _, err := ev.TimeOfDay(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, st := range ev.AudioSequence {
		if strings.TrimSpace(st.AudioFile) == "" {
			return fmt.Errorf("%w: step %d has no audio file", ErrInvalid, i+1)
		}
	}
	return nil
}
