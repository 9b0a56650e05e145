// Package logging sets up the node's structured logging: one
// subsystem-tagged *logrus.Entry per component, sharing a single
// process-wide formatter/level/output configuration.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Configure sets the process-wide logrus level and output. level is parsed
// with logrus.ParseLevel; an empty or invalid level defaults to Info. An
// empty file path logs to stderr.
func Configure(level, file string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)

	var out io.Writer = os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		out = f
	}
	logrus.SetOutput(out)
	return nil
}

// For returns the shared per-subsystem logger, e.g. For("shell"),
// For("shell_host"), For("gossip"), For("matchmaker"). Callers add
// request-scoped fields (height, tx_hash, addr) with WithField/WithFields
// on top of the returned entry rather than constructing their own.
func For(subsystem string) *logrus.Entry {
	return logrus.WithField("subsystem", subsystem)
}
