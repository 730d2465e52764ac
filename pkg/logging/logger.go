// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"slices"
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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Redacted replaces secret values in FilterSecrets output.
const Redacted = "********"

// FilterSecrets returns a copy of fields with the values of secretKeys
// replaced by Redacted. Keys match case-insensitively at every nesting level.
func FilterSecrets(fields map[string]any, secretKeys []string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSecret(k, secretKeys) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = FilterSecrets(nested, secretKeys)
			continue
		}
		out[k] = v
	}
	return out
}

func isSecret(key string, secretKeys []string) bool {
	return slices.ContainsFunc(secretKeys, func(s string) bool {
		return strings.EqualFold(s, key)
	})
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (method, url, client-request-id)
//   - Pages fetched by a cursor
//   - Batch envelopes sent
//
// Info: Normal operation events
//   - Requests that succeeded after throttling
//   - Waits on a shared throttle cooldown
//   - CLI startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - 429 responses and the sleep before resending
//   - Shared cooldown store unavailable
//   - Batch mode restarted with unflushed requests
//
// Error: Error conditions requiring attention
//   - Failed $batch calls and failing sub-requests
//   - Exhausted throttle attempts
//   - Network failures
//
// Context Fields:
//   - component: graph-session, graph-transport, graph-batch, graph-pagination, graph-throttle
//   - method: HTTP method
//   - url: request URL
//   - request_id: client-request-id header value
//   - status: HTTP status code
//   - attempt: send attempt for one logical request
//   - retry_after: throttle sleep
//   - requests: sub-requests in a batch
