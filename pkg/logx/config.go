package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	// Format selects the stdout encoding: "console" (default) or "json".
	Format string
	File   FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	defaultLogPath    = "./schoolbell.log"
)

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// underJournal reports whether stdout is connected to journald.
func underJournal() bool { return os.Getenv("JOURNAL_STREAM") != "" }
