package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultEnvFiles are read by LoadEnv when no files are named.
var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnv loads variables from local env files into the process
// environment. Later files win over earlier ones and over the shell.
func LoadEnv(logger *logrus.Logger, files ...string) []string {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
	return loaded
}

// GetEnv returns the trimmed value of key, or defaultValue when it is blank.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetLogLevel reads LOG_LEVEL, falling back to info.
func GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Env reads typed settings and remembers every malformed value, so a bad
// deployment fails once with the full list instead of running on defaults.
type Env struct {
	errs []error
}

func (e *Env) String(key, defaultValue string) string {
	return GetEnv(key, defaultValue)
}

// Int parses key and rejects values below min.
func (e *Env) Int(key string, defaultValue, min int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	if v < min {
		e.errs = append(e.errs, fmt.Errorf("%s: %d is below the minimum of %d", key, v, min))
		return defaultValue
	}
	return v
}

func (e *Env) Bool(key string, defaultValue bool) bool {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return defaultValue
	}
	return v
}

// List splits a comma separated value, dropping empty entries.
func (e *Env) List(key string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Err joins every problem seen so far, or returns nil.
func (e *Env) Err() error {
	return errors.Join(e.errs...)
}
