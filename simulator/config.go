package main

import (
	"errors"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	DevicesFile string
	Interval    time.Duration
	AckLatency  time.Duration
	DropRate    float64
	RejectRate  float64
	Verbose     bool
}

// Validate checks the flags.
func (c Config) Validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.DropRate < 0 || c.DropRate > 1 || c.RejectRate < 0 || c.RejectRate > 1 {
		errs = append(errs, errors.New("drop and reject rates must be within [0,1]"))
	}
	return errors.Join(errs...)
}
