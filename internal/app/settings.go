package app

import (
	"sync/atomic"
	"time"
)

// settings backs bell.Settings with values that follow config reloads.
type settings struct {
	repeat atomic.Int64
}

func newSettings(repeat time.Duration) *settings {
	s := &settings{}
	s.set(repeat)
	return s
}

func (s *settings) RepeatInterval() time.Duration { return time.Duration(s.repeat.Load()) }

func (s *settings) set(repeat time.Duration) { s.repeat.Store(int64(repeat)) }
