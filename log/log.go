// Package log is a thin, context-aware wrapper over logrus, keeping call
// sites in the form log.Info(ctx, "message", "key", value, err).
package log

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// SetLevel configures the global log level from a string ("debug", "info", ...).
// Unknown values fall back to info.
func SetLevel(level string) {
	l, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		l = logrus.InfoLevel
	}
	logger.SetLevel(l)
}

// SetOutputFormat switches between text (default) and JSON output.
func SetOutputFormat(format string) {
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func Debug(args ...interface{}) { emit(logrus.DebugLevel, args...) }
func Info(args ...interface{})  { emit(logrus.InfoLevel, args...) }
func Warn(args ...interface{})  { emit(logrus.WarnLevel, args...) }
func Error(args ...interface{}) { emit(logrus.ErrorLevel, args...) }
func Fatal(args ...interface{}) { emit(logrus.FatalLevel, args...) }

// emit accepts an optional leading context.Context, a message string, and then
// any mix of key/value pairs and errors. A trailing error (or any unpaired
// value) is recorded under the "error" field.
func emit(level logrus.Level, args ...interface{}) {
	if len(args) == 0 {
		return
	}
	if _, ok := args[0].(context.Context); ok {
		args = args[1:]
		if len(args) == 0 {
			return
		}
	}
	msg, ok := args[0].(string)
	if !ok {
		msg = ""
	} else {
		args = args[1:]
	}

	fields := logrus.Fields{}
	for i := 0; i < len(args); i++ {
		if err, ok := args[i].(error); ok {
			fields["error"] = err.Error()
			continue
		}
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			continue
		}
		fields[key] = args[i+1]
		i++
	}

	entry := logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	}
}
