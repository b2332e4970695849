package main

import (
	"math"
	"sync"
	"time"
)

// Battery models a storage unit with charge/discharge limits.
type Battery struct {
	CapacityKWh     float64 // total capacity
	Soc             float64 // state of charge [0,1]
	ChargeRateKW    float64 // maximum charging power
	DischargeRateKW float64 // maximum discharging power
	mu              sync.Mutex
}

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means discharge (injection), negative means charging.
// It returns the actual power applied after enforcing limits.
func (b *Battery) ApplyPower(powerKW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 || b.CapacityKWh <= 0 {
		return 0
	}
	var actual float64
	switch {
	case powerKW > 0:
		actual = math.Min(powerKW, b.DischargeRateKW)
		actual = math.Min(actual, b.Soc*b.CapacityKWh/hours)
		b.Soc -= actual * hours / b.CapacityKWh
	case powerKW < 0:
		p := math.Min(-powerKW, b.ChargeRateKW)
		p = math.Min(p, (1-b.Soc)*b.CapacityKWh/hours)
		b.Soc += p * hours / b.CapacityKWh
		actual = -p
	}
	b.Soc = math.Max(0, math.Min(1, b.Soc))
	return actual
}

// StateOfCharge returns the current SoC.
func (b *Battery) StateOfCharge() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Soc
}
