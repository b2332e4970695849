package neighbor

import (
	"fmt"

	"github.com/kilianp07/transactive/core/curve"
)

// Kind selects the neighbor model.
type Kind string

const (
	KindStatic       Kind = "static"
	KindTransactive  Kind = "transactive"
	KindBulkSupplier Kind = "bulk_supplier"
)

// Config describes one neighbor of a market.
type Config struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Market string `json:"market"`
	// Vertices is the curve of a static neighbor and the fallback curve of a
	// transactive one.
	Vertices []curve.Vertex `json:"vertices"`
	Supplier SupplierConfig `json:"supplier"`
}

// SupplierConfig describes a bulk supplier tariff with a demand charge.
type SupplierConfig struct {
	MinPower float64 `json:"min_power"`
	MaxPower float64 `json:"max_power"`
	Price    float64 `json:"price"`
	// TimeOfUse optionally holds 24 hourly prices replacing Price.
	TimeOfUse  []float64 `json:"time_of_use"`
	LossFactor float64   `json:"loss_factor"`
	// DemandRate is the charge per unit of peak power. It is spread over the
	// energy of BillingIntervals intervals.
	DemandRate       float64 `json:"demand_rate"`
	DemandThreshold  float64 `json:"demand_threshold"`
	BillingIntervals int     `json:"billing_intervals"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Kind == "" {
		c.Kind = string(KindTransactive)
	}
	if c.Supplier.BillingIntervals <= 0 {
		c.Supplier.BillingIntervals = 1
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("neighbor name is required")
	}
	switch Kind(c.Kind) {
	case KindStatic, KindTransactive:
		if len(c.Vertices) == 0 {
			if Kind(c.Kind) == KindStatic {
				return fmt.Errorf("neighbor %s: static neighbor needs vertices: %w", c.Name, curve.ErrNoActiveVertex)
			}
			return nil
		}
		if err := curve.Validate(curve.Normalize(c.Vertices)); err != nil {
			return fmt.Errorf("neighbor %s: %w", c.Name, err)
		}
	case KindBulkSupplier:
		s := c.Supplier
		if s.MaxPower <= s.MinPower {
			return fmt.Errorf("neighbor %s: max_power must exceed min_power", c.Name)
		}
		if n := len(s.TimeOfUse); n != 0 && n != 24 {
			return fmt.Errorf("neighbor %s: time_of_use needs 24 hourly prices, got %d", c.Name, n)
		}
		if s.LossFactor < 0 || s.DemandRate < 0 {
			return fmt.Errorf("neighbor %s: loss_factor and demand_rate must not be negative", c.Name)
		}
	default:
		return fmt.Errorf("neighbor %s: unknown kind %q", c.Name, c.Kind)
	}
	return nil
}
