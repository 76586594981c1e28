package logging

import (
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"callboard/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Entry is a logger with fields attached
type Entry = *logrus.Entry

// Fields represents structured logging fields
type Fields = logrus.Fields

// Level represents a log level
type Level = logrus.Level

// Log levels
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// serviceHook stamps every entry with the owning service and, when known,
// the deployment environment.
type serviceHook struct {
	service string
	env     string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	if _, ok := e.Data["env"]; !ok && h.env != "" {
		e.Data["env"] = h.env
	}
	return nil
}

// NewLogger returns a logger at LOG_LEVEL. Output is JSON unless
// LOG_FORMAT=text.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(config.GetEnv("LOG_FORMAT", "json"), "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger that tags every entry with service.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{service: serviceName, env: config.GetEnv("APP_ENV", "")})
	return logger
}

// NewTextLogger is used by the CLI, where JSON lines are noise.
func NewTextLogger(out io.Writer, level Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(level)
	return logger
}
