package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Output  io.Writer
	Service string
	Version string
}

var (
	base zerolog.Logger
	once sync.Once
)

// Configure initialises the process-wide base logger. Subsequent calls are
// no-ops; components derive their own loggers via WithComponent.
func Configure(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}

		base = zerolog.New(out).With().
			Timestamp().
			Str("service", cfg.Service).
			Str("version", cfg.Version).
			Logger()
	})
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

// Base returns the configured base logger.
func Base() zerolog.Logger {
	return base
}

// WithComponent returns a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
