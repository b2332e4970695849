package market

import (
	"fmt"
	"strings"
	"time"
)

// Method selects the price update rule of the balancing loop.
type Method string

const (
	MethodSubgradient   Method = "subgradient"
	MethodInterpolation Method = "interpolation"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodSubgradient, MethodInterpolation:
		return m, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownMethod)
	}
}

// Config defines the settings of one market.
type Config struct {
	Name                  string   `json:"name"`
	IntervalMinutes       int      `json:"interval_minutes"`
	HorizonIntervals      int      `json:"horizon_intervals"`
	ActivationLeadMinutes int      `json:"activation_lead_minutes"`
	DeliveryLeadMinutes   int      `json:"delivery_lead_minutes"`
	DualityGapThreshold   float64  `json:"duality_gap_threshold"`
	Method                string   `json:"method"`
	MaxIterations         int      `json:"max_iterations"`
	StepNumerator         float64  `json:"step_numerator"`
	StepOffset            float64  `json:"step_offset"`
	DefaultPrice          *float64 `json:"default_price"`
	FallbackPower         float64  `json:"fallback_power"`
	SignalThreshold       float64  `json:"signal_threshold"`
	MaxConsensusRounds    int      `json:"max_consensus_rounds"`
	RoundTimeoutMS        int      `json:"round_timeout_ms"`
	SequentialOffers      bool     `json:"sequential_offers"`
}

// SetDefaults fills zero values with defaults. A zero activation lead becomes
// the full horizon, so every interval opens as soon as it is created. An unset
// default price becomes 0.05; an explicit zero is kept.
func (c *Config) SetDefaults() {
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 60
	}
	if c.HorizonIntervals <= 0 {
		c.HorizonIntervals = 24
	}
	if c.ActivationLeadMinutes <= 0 {
		c.ActivationLeadMinutes = c.IntervalMinutes * c.HorizonIntervals
	}
	if c.DualityGapThreshold <= 0 {
		c.DualityGapThreshold = 0.01
	}
	if c.Method == "" {
		c.Method = string(MethodInterpolation)
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.StepNumerator <= 0 {
		c.StepNumerator = 0.1
	}
	if c.StepOffset <= 0 {
		c.StepOffset = 10
	}
	if c.DefaultPrice == nil {
		price := 0.05
		c.DefaultPrice = &price
	}
	if c.SignalThreshold <= 0 {
		c.SignalThreshold = 0.01
	}
	if c.MaxConsensusRounds <= 0 {
		c.MaxConsensusRounds = 10
	}
	if c.RoundTimeoutMS <= 0 {
		c.RoundTimeoutMS = 2000
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("market name is required")
	}
	if c.IntervalMinutes <= 0 || c.HorizonIntervals <= 0 {
		return fmt.Errorf("market %s: interval_minutes and horizon_intervals must be positive", c.Name)
	}
	if c.DeliveryLeadMinutes < 0 || c.DeliveryLeadMinutes > c.IntervalMinutes*c.HorizonIntervals {
		return fmt.Errorf("market %s: delivery_lead_minutes out of range", c.Name)
	}
	if c.DualityGapThreshold <= 0 {
		return fmt.Errorf("market %s: duality_gap_threshold must be positive", c.Name)
	}
	if _, err := ParseMethod(c.Method); err != nil {
		return fmt.Errorf("market %s: %w", c.Name, err)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("market %s: max_iterations must be at least 1", c.Name)
	}
	return nil
}

// SeedPrice returns the price of an interval without a cleared value.
func (c Config) SeedPrice() float64 {
	if c.DefaultPrice == nil {
		return 0
	}
	return *c.DefaultPrice
}

// Interval returns the interval duration.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalMinutes) * time.Minute }

// RoundTimeout returns how long a consensus round waits for neighbor signals.
func (c Config) RoundTimeout() time.Duration {
	return time.Duration(c.RoundTimeoutMS) * time.Millisecond
}

// Step returns the subgradient step size for iteration k.
func (c Config) Step(k int) float64 { return c.StepNumerator / (c.StepOffset + float64(k)) }
