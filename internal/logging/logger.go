// Package logging provides the application's zerolog-based structured logger.
//
// A usable logger exists before Init is called, so packages can log from tests
// and early startup. Call Init from main once configuration is loaded:
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	logging.Info().Str("user_id", id).Msg("snapshot refreshed")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn, error. Default: info.
	Level string

	// Format is json or console. Default: json.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // logging must work before Init is called
func init() {
	initLogger(Config{})
}

// Init configures the global logger. It is safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
}

// parseLevel converts a level name to a zerolog.Level, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns a child logger context of the global logger.
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// Debug starts a debug-level message.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info starts an info-level message.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn starts a warn-level message.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error starts an error-level message.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}
