// Package logging wires up the process-wide structured logger. Grounded in
// the teacher's cmd/main.go logger construction and core/log_rotator.go's
// ping-pong file rotation.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a JSON-formatted logrus.Logger at the given level, optionally
// tee'd to a size-capped rotating file alongside stderr.
//
// level accepts (case-insensitive) DEBUG, INFO, WARNING/WARN, ERROR; any
// other value falls back to INFO.
func New(level string, logFile string, maxSizeMB int) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(parseLevel(level))

	if logFile == "" {
		return log, nil
	}

	rotator, err := NewLogRotator(logFile, maxSizeMB)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return log, nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARNING", "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
