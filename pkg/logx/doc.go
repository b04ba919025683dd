// Package logx is the daemon's structured logging: a small wrapper
// (logx.Logger) on top of zerolog.
//
// Output goes to stdout (human console lines, or JSON) and optionally to a
// JSON file. Under systemd the console drops its own timestamps and colors,
// since journald records both. Level and sinks can be swapped at runtime by
// Service.Apply on config reload; loggers derived from the Service follow.
package logx
