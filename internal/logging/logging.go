// Package logging wraps a package-level logrus logger with the engine's
// field conventions, so lifecycle and recovery events are structured
// instead of printf'd.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and
// applies it to the package logger; an unrecognized name is ignored.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// Component returns a logger pre-tagged with a "component" field, e.g.
// logging.Component("bufferpool").
func Component(name string) *logrus.Entry {
	return base.WithField("component", name)
}
