package asset

import "fmt"

// Kind selects the asset model.
type Kind string

const (
	KindInelastic Kind = "inelastic"
	KindFlexible  Kind = "flexible"
	KindForecast  Kind = "forecast"
)

// Config describes one local asset.
type Config struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Market string `json:"market"`
	// Power is the fixed power of an inelastic asset, negative for
	// consumption. A measured_power point overrides it once read.
	Power    float64        `json:"power"`
	Price    float64        `json:"price"`
	Flexible FlexibleConfig `json:"flexible"`
	// Profile holds 24 hourly powers of a forecast asset.
	Profile []float64     `json:"profile"`
	Points  []PointConfig `json:"points"`
}

// FlexibleConfig is a quadratic production cost a0 + a1*p + a2*p^2 over
// [MinPower, MaxPower].
type FlexibleConfig struct {
	A0       float64 `json:"a0"`
	A1       float64 `json:"a1"`
	A2       float64 `json:"a2"`
	MinPower float64 `json:"min_power"`
	MaxPower float64 `json:"max_power"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Kind == "" {
		c.Kind = string(KindInelastic)
	}
}

// Validate checks the configuration, including the point table.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("asset name is required")
	}
	switch Kind(c.Kind) {
	case KindInelastic:
	case KindFlexible:
		f := c.Flexible
		if f.MaxPower < f.MinPower {
			return fmt.Errorf("asset %s: max_power below min_power", c.Name)
		}
		if f.A2 < 0 {
			return fmt.Errorf("asset %s: a2 must not be negative", c.Name)
		}
	case KindForecast:
		if len(c.Profile) != 0 && len(c.Profile) != 24 {
			return fmt.Errorf("asset %s: profile needs 24 hourly values, got %d", c.Name, len(c.Profile))
		}
	default:
		return fmt.Errorf("asset %s: unknown kind %q", c.Name, c.Kind)
	}
	if _, err := NewPointTable(c.Points); err != nil {
		return fmt.Errorf("asset %s: %w", c.Name, err)
	}
	return nil
}
