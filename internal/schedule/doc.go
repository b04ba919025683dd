// Package schedule holds the declarative weekly bell schedule: days, events,
// audio sequences and time-of-day parsing. It has no runtime state; the
// trigger machinery lives in internal/bell and persistence in internal/storage.
package schedule
