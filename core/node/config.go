package node

import (
	"fmt"
	"time"
)

// Config defines the settings of the node runner.
type Config struct {
	Name                 string `json:"name"`
	RetryIntervalSeconds int    `json:"retry_interval_seconds"`
	MaxRetries           int    `json:"max_retries"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.RetryIntervalSeconds <= 0 {
		c.RetryIntervalSeconds = 30
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("node name is required")
	}
	return nil
}

// RetryInterval returns the delay before an unsettled cycle is retried.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}
