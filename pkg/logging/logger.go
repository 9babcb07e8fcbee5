// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled silences the logger.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to
// info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
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

// NewLogger creates a logger derived from the global one with the given
// component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: queue internals
//   - Job admitted / dispatched (job_id, method, attempt, in_flight)
//   - Dispatch resumed after a pause
//   - Page merged, pagination complete
//   - Pause state mirrored to redis
//
// Info: normal operation events
//   - Request succeeded after retry
//   - Pagination progress (every 50 pages)
//   - Proxy startup/shutdown
//
// Warn: conditions the client absorbs
//   - Retrying request after backoff
//   - Rate limited - pausing dispatch / rejecting call
//   - Web API warnings (response_metadata.warnings)
//   - Page fetch failed - aggregation abandoned
//
// Error: conditions surfaced to the caller
//   - Retry attempts exhausted
//
// Context Fields:
//   - component: "webapi-client"
//   - job_id: uuid of the queued call
//   - method: Web API method name
//   - attempt: retries consumed so far
//   - error_code: request_error, rate_limited, http_error, platform_error
//   - backoff / retry_after: durations
//   - paused_until: end of a rate-limit pause
