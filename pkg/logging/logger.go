package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger provides component-scoped logging for shutter.
//
// A Logger is always passed explicitly to the components that use it; there
// is no package-level logger. Child loggers created with With share the
// parent's output and are not responsible for closing it.
type Logger struct {
	entry     *logrus.Entry
	component string
	sessionID string
	logPath   string
	file      *os.File
	closeOnce sync.Once
}

// New wraps an existing logrus logger for the given component.
func New(base *logrus.Logger, component string) *Logger {
	if base == nil {
		base = logrus.New()
	}
	return &Logger{
		entry:     base.WithField("component", component),
		component: component,
		sessionID: uuid.New().String(),
	}
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return New(base, "null")
}

// NewFileLogger creates a logger writing to <dir>/<session-id>-shutter.log.
//
// If the directory cannot be created or the file cannot be opened, it
// returns a fallback logger that writes to stderr along with the error.
// Callers can check the error to detect fallback mode.
func NewFileLogger(dir, component string) (*Logger, error) {
	sessID := uuid.New().String()

	if err := os.MkdirAll(dir, 0750); err != nil {
		err = fmt.Errorf("failed to create log directory: %w", err)
		return newFallbackLogger(component, sessID, err), err
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s-shutter.log", sessID))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, sessID, err), err
	}

	base := logrus.New()
	base.SetOutput(file)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	return &Logger{
		entry:     base.WithField("component", component),
		component: component,
		sessionID: sessID,
		logPath:   logPath,
		file:      file,
	}, nil
}

func newFallbackLogger(component, sessID string, err error) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	l := &Logger{
		entry:     base.WithField("component", component),
		component: component,
		sessionID: sessID,
	}
	l.Warnf("failed to initialize file logging: %v", err)
	l.Warnf("falling back to stderr logging")
	return l
}

// With returns a child logger for another component sharing this output.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		entry:     l.entry.WithField("component", component),
		component: component,
		sessionID: l.sessionID,
		logPath:   l.logPath,
	}
}

// WithField returns a child logger carrying an extra structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		entry:     l.entry.WithField(key, value),
		component: l.component,
		sessionID: l.sessionID,
		logPath:   l.logPath,
	}
}

// SetLevel parses and applies a logrus level name ("debug", "info", ...).
func (l *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.entry.Logger.SetLevel(lvl)
	return nil
}

// DebugMode reports whether debug messages are emitted.
func (l *Logger) DebugMode() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// Writer returns an io.Writer that writes to this logger at info level.
func (l *Logger) Writer() io.Writer {
	return l.entry.Writer()
}

// Component returns the component name attached to every entry.
func (l *Logger) Component() string {
	return l.component
}

// SessionID returns the run identifier used for the log file name.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, or "" when not file backed.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
