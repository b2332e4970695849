package neighbor

import (
	"sync"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
)

// BulkSupplier sells power under a tariff with a demand charge. Power above
// the demand threshold carries the amortized demand rate on top of the energy
// price, and the threshold ratchets up to every delivered peak.
type BulkSupplier struct {
	*market.Entity
	cfg SupplierConfig

	mu        sync.Mutex
	threshold float64
}

// NewBulkSupplier returns a supplier starting at cfg.DemandThreshold.
func NewBulkSupplier(name string, cfg SupplierConfig) *BulkSupplier {
	if cfg.BillingIntervals <= 0 {
		cfg.BillingIntervals = 1
	}
	b := &BulkSupplier{cfg: cfg, threshold: cfg.DemandThreshold}
	b.Entity = market.NewEntity(name, func(ti model.TimeInterval) ([]curve.Vertex, error) {
		return b.cfg.Vertices(ti, b.Threshold()), nil
	})
	return b
}

// Threshold returns the current demand threshold.
func (b *BulkSupplier) Threshold() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

// ObserveDelivery raises the threshold to a delivered power above it.
func (b *BulkSupplier) ObserveDelivery(_ model.TimeInterval, power float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if power > b.threshold {
		b.threshold = power
	}
}

// BasePrice returns the energy price of ti.
func (s SupplierConfig) BasePrice(ti model.TimeInterval) float64 {
	if len(s.TimeOfUse) == 24 {
		return s.TimeOfUse[ti.Start.Hour()]
	}
	return s.Price
}

// DemandAdder returns the demand rate amortized per unit of energy in ti.
func (s SupplierConfig) DemandAdder(ti model.TimeInterval) float64 {
	h := ti.Hours()
	if h <= 0 || s.DemandRate == 0 {
		return 0
	}
	n := s.BillingIntervals
	if n <= 0 {
		n = 1
	}
	return s.DemandRate / (h * float64(n))
}

func (s SupplierConfig) lossed(price, power float64) float64 {
	if s.MaxPower <= 0 {
		return price
	}
	return price * (1 + 2*s.LossFactor*power/s.MaxPower)
}

// Vertices builds the supplier curve of ti for a demand threshold. A
// threshold outside (MinPower, MaxPower) yields two vertices at the base
// price; one inside yields four with the demand charge kink at the threshold.
func (s SupplierConfig) Vertices(ti model.TimeInterval, threshold float64) []curve.Vertex {
	base := s.BasePrice(ti)
	lo, hi := s.MinPower, s.MaxPower
	if threshold <= lo || threshold >= hi {
		return curve.Normalize([]curve.Vertex{
			{MarginalPrice: s.lossed(base, lo), Power: lo},
			{MarginalPrice: s.lossed(base, hi), Power: hi},
		})
	}
	peak := base + s.DemandAdder(ti)
	return curve.Normalize([]curve.Vertex{
		{MarginalPrice: s.lossed(base, lo), Power: lo},
		{MarginalPrice: s.lossed(base, threshold), Power: threshold},
		{MarginalPrice: s.lossed(peak, threshold), Power: threshold},
		{MarginalPrice: s.lossed(peak, hi), Power: hi},
	})
}
