// Package logging wraps logrus with a small package-level default logger,
// used throughout koanvec in place of ad-hoc fmt.Println diagnostics.
//
// Grounded on leo9827-own-x-go/log/logrus.go's LoggerImpl: a
// sync-guarded *logrus.Logger with leveled convenience methods and
// caller-position decoration.
package logging

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled, caller-decorated wrapper around a *logrus.Logger.
type Logger struct {
	mu  sync.Mutex
	log *logrus.Logger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide default Logger, creating it on first
// use at info level.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = New()
	})
	return defaultLogger
}

// New creates a Logger at info level, logging to stderr.
func New() *Logger {
	l := &Logger{log: logrus.New()}
	l.SetLevel("info")
	return l
}

func (l *Logger) decorate() *logrus.Entry {
	if pc, file, line, ok := runtime.Caller(2); ok {
		fn := runtime.FuncForPC(pc).Name()
		parts := strings.Split(file, "/")
		if len(parts) > 2 {
			parts = parts[len(parts)-2:]
		}
		return l.log.WithField("at", fmt.Sprintf("%s:%d", strings.Join(parts, "/"), line)).WithField("func", fn)
	}
	return logrus.NewEntry(l.log)
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.decorate().Debugf(format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.decorate().Infof(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.decorate().Warnf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.decorate().Errorf(format, v...) }

// SetLevel parses a level name ("debug", "info", "warn", "error") and
// applies it, defaulting to info on an unrecognized name.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.log.Level = lvl
}

// SetOutput redirects log output, e.g. for tests that want to assert on
// emitted lines.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Out = w
}
