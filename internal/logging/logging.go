// Package logging wraps logrus behind the teacher's ErrorLogger shape
// (Error/Debug plus a traceback helper for handler panics), so the rest
// of the engine depends on a small interface rather than logrus directly.
package logging

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every component depends on. No package-level
// singleton: each component receives one at construction time.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	ErrorAndTraceback(err error)
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger backed by logrus, writing text lines to
// logFile (or stderr if empty) at the given level ("debug", "info",
// "warn", "error").
func New(level, logFile string) (Logger, error) {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", logFile, err)
		}
		l.SetOutput(f)
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}, nil
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

// ErrorAndTraceback logs err plus a stack trace, mirroring the teacher's
// sippy_log.ErrorLogger.ErrorAndTraceback: it exists so a panic recovered
// at a handler boundary is diagnosable without crashing the datagram loop.
func (l *logrusLogger) ErrorAndTraceback(err error) {
	l.entry.Error(err)
	buf := make([]byte, 16384)
	n := runtime.Stack(buf, false)
	for _, line := range strings.Split(string(buf[:n]), "\n") {
		if line != "" {
			l.entry.Error(line)
		}
	}
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}
