// Package logger provides the one-line structured logging used across the
// daemon, mirroring shared/logger + logrus wiring.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx holds structured fields attached to a log line.
type Ctx map[string]any

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug raises the log level to include Debug-level events.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

func fields(ctx []Ctx) logrus.Fields {
	if len(ctx) == 0 {
		return nil
	}

	f := logrus.Fields{}
	for _, c := range ctx {
		for k, v := range c {
			f[k] = v
		}
	}

	return f
}

// Info logs msg at info level with optional structured context.
func Info(msg string, ctx ...Ctx) {
	log.WithFields(fields(ctx)).Info(msg)
}

// Warn logs msg at warning level with optional structured context.
func Warn(msg string, ctx ...Ctx) {
	log.WithFields(fields(ctx)).Warn(msg)
}

// Error logs msg at error level with optional structured context.
func Error(msg string, ctx ...Ctx) {
	log.WithFields(fields(ctx)).Error(msg)
}

// Debug logs msg at debug level with optional structured context. Used for
// error chain details that should not be surfaced to callers (see apierror).
func Debug(msg string, ctx ...Ctx) {
	log.WithFields(fields(ctx)).Debug(msg)
}
