package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = newLogger(os.Stdout)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(jsonFormatter())
	return l
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		DataKey:         "fields",
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "message"},
	}
}

// Configure sets level ("debug", "info", "warn", "error") and format ("json" or "text").
// Unknown values keep the defaults.
func Configure(level, format string) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		std.SetLevel(lvl)
	}
	if format == "text" {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		std.SetFormatter(jsonFormatter())
	}
}

// SetOutput redirects log lines, mostly for tests.
func SetOutput(w io.Writer) { std.SetOutput(w) }

func Log(level, msg string, fields map[string]any) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.WithFields(logrus.Fields(fields)).Log(lvl, msg)
}

func Debug(msg string, fields map[string]any) { Log("debug", msg, fields) }
func Info(msg string, fields map[string]any)  { Log("info", msg, fields) }
func Warn(msg string, fields map[string]any)  { Log("warning", msg, fields) }
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }
