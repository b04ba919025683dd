// Package storage persists the weekly bell schedule and the activity log.
//
// Two drivers are available:
//   - "file": one JSON document with atomic save, a backup copy and
//     change watching for external edits
//   - "sqlite": a SQLite database (pure Go driver)
package storage
