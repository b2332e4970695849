package signal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/transactive/core/model"
)

// ErrRecordCountMismatch is reported by Deviation when two signals have a
// different number of records.
var ErrRecordCountMismatch = errors.New("record count mismatch")

// Deviation returns the relative difference between two signals for the same
// interval. Power deviation is sum|qa-qb| over the mean absolute power sum.
// When both signals are flexible the relative price deviation is combined by
// root-sum-square.
func Deviation(a, b []model.TransactiveRecord) (float64, error) {
	if len(a) != len(b) {
		return math.Inf(1), fmt.Errorf("%d vs %d records: %w", len(a), len(b), ErrRecordCountMismatch)
	}
	if len(a) == 0 {
		return 0, nil
	}
	ra, rb := sortedByIndex(a), sortedByIndex(b)
	qa, qb := make([]float64, len(ra)), make([]float64, len(rb))
	pa, pb := make([]float64, len(ra)), make([]float64, len(rb))
	for i := range ra {
		qa[i], qb[i] = ra[i].Power, rb[i].Power
		pa[i], pb[i] = ra[i].MarginalPrice, rb[i].MarginalPrice
	}
	dev := relative(qa, qb)
	if len(ra) > 1 {
		dev = math.Hypot(dev, relative(pa, pb))
	}
	return dev, nil
}

// relative returns sum|x-y| / (sum|x| + sum|y|)/2.
func relative(x, y []float64) float64 {
	delta := floats.Distance(x, y, 1)
	if delta == 0 {
		return 0
	}
	avg := (floats.Norm(x, 1) + floats.Norm(y, 1)) / 2
	if avg == 0 {
		return math.Inf(1)
	}
	return delta / avg
}

// AreDifferent reports whether signal b differs from a enough to be resent.
// A record count mismatch is always different.
func AreDifferent(a, b []model.TransactiveRecord, threshold float64) bool {
	dev, err := Deviation(a, b)
	if err != nil {
		return true
	}
	return dev > threshold
}
