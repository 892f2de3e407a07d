// Package klog is the kernel's shared structured logger, grounded on the
// dh-cli repo's sirupsen/logrus usage. Its callers are cmd/kernctl's
// mkfat and run commands; the fat, frame, vm and proc packages do not log.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Callers attach a field for their own
// identity (via For) rather than creating separate loggers, matching a single shared sink being the simplest thing that
// keeps log ordering intact across goroutines.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// For returns a logger scoped to one subsystem, e.g. klog.For("fat") or
// klog.For("vm").
func For(subsystem string) *logrus.Entry {
	return Log.WithField("subsystem", subsystem)
}

// SetLevel adjusts the global log level, used by cmd/kernctl's -v flag.
func SetLevel(level logrus.Level) {
	Log.SetLevel(level)
}
