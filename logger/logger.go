// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/mdobak/go-xerrors"
	"github.com/sirupsen/logrus"
)

// Logger is shared by every package. Configure it once from main.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Configure sets the level ("debug", "info", ...) and the formatter
// ("text" or "json"). Empty values keep the current setting.
func Configure(level, format string) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return xerrors.New("logger", err)
		}
		Logger.SetLevel(lvl)
	}

	switch strings.ToLower(format) {
	case "":
	case "text":
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return xerrors.New(fmt.Sprintf("logger: unknown format %q", format))
	}
	return nil
}

// For returns an entry tagged with a component name, e.g. "http" or "fingerprint".
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
