// Package logger provides the zerolog backed implementation of the core
// Logger interface used by every component of the node.
package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/transactive/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// Config selects the log level.
type Config struct {
	Level string `json:"level"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	_, err := ParseLevel(c.Level)
	return err
}

// ParseLevel maps debug, info, warn and error to zerolog levels.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Configure applies cfg to every logger created by this package.
func Configure(cfg Config) error {
	cfg.SetDefaults()
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// New returns a Logger for the given component. The environment is detected via
// the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// OrNew returns l, or a new logger for component when l is nil.
func OrNew(l Logger, component string) Logger {
	if l == nil {
		return New(component)
	}
	return l
}
