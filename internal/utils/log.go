package utils

import (
	"fmt"
	"log"
	"os"
)

// Logger is the minimal leveled logger used throughout the loss-recovery
// core. Debug logging is gated behind Debug() so that callers can skip
// formatting work entirely when it's disabled.
type Logger interface {
	Debug() bool
	Debugf(format string, args ...any)
}

// nopLogger discards everything; it's the default when no logger is wired.
type nopLogger struct{}

func (nopLogger) Debug() bool                     { return false }
func (nopLogger) Debugf(format string, args ...any) {}

// DefaultLogger is used when a caller doesn't provide one.
var DefaultLogger Logger = nopLogger{}

// StdLogger writes debug lines to the standard library logger. Used by
// tests and by callers that want visibility into loss-recovery decisions.
type StdLogger struct {
	enabled bool
	logger  *log.Logger
}

func NewStdLogger(enabled bool) *StdLogger {
	return &StdLogger{enabled: enabled, logger: log.New(os.Stderr, "", log.Lmicroseconds)}
}

func (l *StdLogger) Debug() bool { return l.enabled }

func (l *StdLogger) Debugf(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.logger.Println(fmt.Sprintf(format, args...))
}
