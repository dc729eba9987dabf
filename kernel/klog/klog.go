// Package klog configures the kernel logger.
package klog

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const msgUnknownLevel = "klog: unknown log level, falling back to INFO"

// ParseLevel converts a configuration level name into a logrus level. The
// second return value is false if the name is not recognised, in which case
// InfoLevel is returned.
func ParseLevel(name string) (log.Level, bool) {
	switch strings.ToUpper(name) {
	case "TRACE":
		return log.TraceLevel, true
	case "DEBUG":
		return log.DebugLevel, true
	case "INFO":
		return log.InfoLevel, true
	case "WARN":
		return log.WarnLevel, true
	case "ERROR":
		return log.ErrorLevel, true
	default:
		return log.InfoLevel, false
	}
}

// Init installs the kernel log format, level and output. A nil out logs to
// stderr.
func Init(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}

	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
		DisableQuote:     true,
	})

	lvl, ok := ParseLevel(level)
	log.SetLevel(lvl)
	if !ok {
		log.WithField("level", level).Warn(msgUnknownLevel)
	}

	log.Debug("klog: logger initialized")
}
