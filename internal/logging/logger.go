package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fields are structured key/value pairs attached to an entry.
type Fields = map[string]any

var std = newLogger(os.Stdout)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(jsonFormatter())
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Configure sets the global level and output format ("json" or "text").
func Configure(level, format string) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		std.SetLevel(lvl)
	}
	if strings.EqualFold(format, "text") {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
		return
	}
	std.SetFormatter(jsonFormatter())
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
	}
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) { std.SetOutput(w) }

// Logger exposes the underlying logrus logger.
func Logger() *logrus.Logger { return std }

// With returns an entry carrying fields for scoped logging.
func With(fields Fields) *logrus.Entry { return std.WithFields(logrus.Fields(fields)) }

func Log(level logrus.Level, msg string, fields Fields) {
	std.WithFields(logrus.Fields(fields)).Log(level, msg)
}

func Debug(msg string, fields Fields) { Log(logrus.DebugLevel, msg, fields) }
func Info(msg string, fields Fields)  { Log(logrus.InfoLevel, msg, fields) }
func Warn(msg string, fields Fields)  { Log(logrus.WarnLevel, msg, fields) }
func Error(msg string, fields Fields) { Log(logrus.ErrorLevel, msg, fields) }
