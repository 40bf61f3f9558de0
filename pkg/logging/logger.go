// Package logging builds the logrus logger used across faceattend.
// A Logger is created once at startup and handed to each component;
// there is no package-level logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

// Logger wraps a logrus.Logger together with the log file it may own.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New creates a logger at the given level writing to stderr and,
// when logFile is set, appending to that file as well.
func New(level string, logFile string) (*Logger, error) {
	l := &Logger{Logger: newLogrus(os.Stderr, level)}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}

		l.file = file
		l.SetOutput(io.MultiWriter(os.Stderr, file))
	}

	return l, nil
}

// NewWithWriter creates a logger that writes only to w.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{Logger: newLogrus(w, level)}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

func newLogrus(w io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(w)
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a config level name to a logrus level.
// Unknown names fall back to info.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevelName changes the level using a config level name.
func (l *Logger) SetLevelName(level string) {
	l.SetLevel(ParseLevel(level))
}

// Component returns a logger entry for a specific component.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.SetOutput(os.Stderr)
	return err
}
