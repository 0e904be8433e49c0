// Package logging sets up the process logger. A TUI owns the terminal, so
// logs go to a file inside the profile's config directory instead of stdout.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Config struct {
	Level string
	// File is the log target. Empty disables logging entirely.
	File string
}

var (
	global = zerolog.Nop()
	once   sync.Once
)

// Init configures the global logger. Call once at startup, before the UI
// takes over the terminal.
func Init(cfg Config) {
	once.Do(func() {
		if cfg.File == "" {
			return
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return
		}
		global = newLogger(f, cfg.Level)
	})
}

// L returns the global logger.
func L() zerolog.Logger {
	return global
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
