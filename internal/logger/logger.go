// Package logger provides structured logging for the revision engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/totegamma/checkpoint/internal/domain"
)

// Logger wraps zerolog with engine-specific helpers.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a new structured logger
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "checkpoint").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Wrap adopts an existing zerolog logger.
func Wrap(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a sub-logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// callerErrors are rejections of the request itself, not engine failures.
var callerErrors = []error{
	domain.ErrNotFound,
	domain.ErrMissingRevisionContext,
	domain.ErrUnknownTemporalBound,
	domain.ErrAmbiguousEntityType,
	domain.ErrRevisionSealed,
	domain.ErrTimelineMismatch,
}

func isCallerError(err error) bool {
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// LogChainOperation logs a chain mutation with structured fields. Rejected
// requests are logged at warn, anything else that failed at error.
func (l *Logger) LogChainOperation(operation string, revisionID int64, duration time.Duration, err error) {
	event := l.zlog.Debug()
	switch {
	case err == nil:
	case isCallerError(err):
		event = l.zlog.Warn().Err(err)
	default:
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "chain").
		Str("operation", operation).
		Int64("revision_id", revisionID).
		Dur("duration_ms", duration).
		Msg("chain operation completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(listen string, driver string) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("listen", listen).
		Str("storage", driver).
		Msg("checkpoint server starting")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("checkpoint server shutting down")
}
