package curve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// PowerRange returns the range of power the curve is willing to produce at
// the given marginal price. Below the first vertex the range collapses to the
// first vertex's power and above the last vertex to the last one's. When the
// price matches a flat run of vertices, lo and hi are the run's extremes;
// elsewhere lo == hi is the linear interpolation between the two bracketing
// vertices.
func PowerRange(vs []Vertex, price float64) (lo, hi float64) {
	n := len(vs)
	switch n {
	case 0:
		return 0, 0
	case 1:
		return vs[0].Power, vs[0].Power
	}
	first, last := vs[0], vs[n-1]
	if price < first.MarginalPrice-Epsilon {
		return first.Power, first.Power
	}
	if price > last.MarginalPrice+Epsilon {
		return last.Power, last.Power
	}
	found := false
	for _, v := range vs {
		if scalar.EqualWithinAbs(v.MarginalPrice, price, Epsilon) {
			if !found {
				lo, found = v.Power, true
			}
			hi = v.Power
		}
	}
	if found {
		return lo, hi
	}
	for i := 0; i < n-1; i++ {
		a, b := vs[i], vs[i+1]
		if b.MarginalPrice <= a.MarginalPrice {
			continue
		}
		if a.MarginalPrice <= price && price <= b.MarginalPrice {
			p := a.Power + (price-a.MarginalPrice)*(b.Power-a.Power)/(b.MarginalPrice-a.MarginalPrice)
			return p, p
		}
	}
	return last.Power, last.Power
}

// PowerAtPrice interpolates the power produced at price, resolving flat runs
// to their upper end.
func PowerAtPrice(vs []Vertex, price float64) float64 {
	_, hi := PowerRange(vs, price)
	return hi
}

// PowerAt resolves a flat run by the given fill share in [0,1]: 0 selects the
// lower end and 1 the upper end.
func PowerAt(vs []Vertex, price, fill float64) float64 {
	lo, hi := PowerRange(vs, price)
	return lo + clamp01(fill)*(hi-lo)
}

// Production returns the power produced at price. A single-vertex curve is
// inelastic and always returns its power; an empty curve cannot be scheduled.
func Production(vs []Vertex, price float64) (float64, error) {
	if len(vs) == 0 {
		return 0, ErrNoActiveVertex
	}
	return PowerAtPrice(vs, price), nil
}

// PriceAtPower is the inverse of PowerAtPrice with the same clamping rules.
func PriceAtPower(vs []Vertex, power float64) (float64, error) {
	n := len(vs)
	if n == 0 {
		return 0, ErrNoActiveVertex
	}
	if n == 1 || power <= vs[0].Power {
		return vs[0].MarginalPrice, nil
	}
	if power >= vs[n-1].Power {
		return vs[n-1].MarginalPrice, nil
	}
	for i := 0; i < n-1; i++ {
		a, b := vs[i], vs[i+1]
		if a.Power <= power && power < b.Power {
			return a.MarginalPrice + (power-a.Power)*(b.MarginalPrice-a.MarginalPrice)/(b.Power-a.Power), nil
		}
	}
	return vs[n-1].MarginalPrice, nil
}

// ProductionCost integrates the marginal price curve from the first vertex up
// to power using the trapezoidal rule. Powers below the first vertex cost
// nothing; beyond the last vertex the last marginal price is extended flat.
// The first vertex's Cost is the integration constant.
func ProductionCost(vs []Vertex, power float64) float64 {
	n := len(vs)
	if n == 0 || power < vs[0].Power {
		return 0
	}
	cost := vs[0].Cost
	for i := 0; i < n-1; i++ {
		a, b := vs[i], vs[i+1]
		top := math.Min(power, b.Power)
		if top > a.Power {
			mpTop := a.MarginalPrice + (top-a.Power)*(b.MarginalPrice-a.MarginalPrice)/(b.Power-a.Power)
			cost += 0.5 * (a.MarginalPrice + mpTop) * (top - a.Power)
		}
		if power <= b.Power {
			return cost
		}
	}
	last := vs[n-1]
	return cost + last.MarginalPrice*(power-last.Power)
}

// ClearingPrice finds the marginal price at which the aggregate curve crosses
// zero net power. lowerVertex is the last vertex with negative power and
// upperVertex the first with non-negative power; the price is interpolated by
// similar triangles between them.
func ClearingPrice(agg []Vertex) (float64, error) {
	lower, upper := -1, -1
	for i, v := range agg {
		if v.Power < 0 {
			lower = i
		}
	}
	for i, v := range agg {
		if v.Power >= 0 {
			upper = i
			break
		}
	}
	if lower < 0 || upper < 0 {
		return 0, fmt.Errorf("no bracketing vertex around zero power: %w", ErrDegenerateCurve)
	}
	lv, uv := agg[lower], agg[upper]
	dp := uv.Power - lv.Power
	if dp <= 0 {
		return 0, fmt.Errorf("zero power range between %v and %v: %w", lv, uv, ErrDegenerateCurve)
	}
	return lv.MarginalPrice - (uv.MarginalPrice-lv.MarginalPrice)*lv.Power/dp, nil
}

// Fill returns the share of an aggregate power range [lo, hi] needed to
// reach zero net power, clamped to [0,1]. A collapsed range returns 1.
func Fill(lo, hi float64) float64 {
	if hi-lo <= Epsilon {
		return 1
	}
	return clamp01(-lo / (hi - lo))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
