// Package curve implements the piecewise-linear marginal cost/benefit curves
// exchanged between market participants.
//
// A curve is a slice of Vertex values. The canonical form orders vertices by
// power ascending with ties broken by marginal price ascending; marginal price
// must not decrease as power increases (supply convention, consumption is
// negative power). All functions in this package assume canonical input unless
// stated otherwise; use Normalize to obtain it.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"
)

// Epsilon is the tolerance used to merge duplicate vertices.
const Epsilon = 1e-9

var (
	// ErrNoActiveVertex is returned when a schedule is requested against an
	// empty curve.
	ErrNoActiveVertex = errors.New("curve has no active vertex")
	// ErrDegenerateCurve is returned for curves that cannot be interpolated:
	// crossing vertices, invalid numbers or a missing/zero power range.
	ErrDegenerateCurve = errors.New("degenerate curve")
)

// Vertex is one corner of a piecewise-linear marginal price curve.
type Vertex struct {
	MarginalPrice float64 `json:"marginal_price" yaml:"marginal_price"`
	Power         float64 `json:"power" yaml:"power"`
	// Cost is the production cost accumulated at this vertex. Only the first
	// vertex's cost is used as the integration constant.
	Cost float64 `json:"cost,omitempty" yaml:"cost,omitempty"`
}

func (v Vertex) String() string {
	return fmt.Sprintf("(%.4f kW @ %.5f)", v.Power, v.MarginalPrice)
}

// Equal reports whether both coordinates match within Epsilon.
func (v Vertex) Equal(o Vertex) bool {
	return scalar.EqualWithinAbs(v.Power, o.Power, Epsilon) &&
		scalar.EqualWithinAbs(v.MarginalPrice, o.MarginalPrice, Epsilon)
}

// Order returns a copy of vs sorted by power ascending, ties broken by
// marginal price ascending. The sort is stable.
func Order(vs []Vertex) []Vertex {
	out := make([]Vertex, len(vs))
	copy(out, vs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Power != out[j].Power {
			return out[i].Power < out[j].Power
		}
		return out[i].MarginalPrice < out[j].MarginalPrice
	})
	return out
}

// Normalize orders the vertices and drops consecutive duplicates.
func Normalize(vs []Vertex) []Vertex {
	ordered := Order(vs)
	if len(ordered) < 2 {
		return ordered
	}
	out := ordered[:1]
	for _, v := range ordered[1:] {
		if v.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// IsOrdered reports whether vs is already in canonical order.
func IsOrdered(vs []Vertex) bool {
	for i := 1; i < len(vs); i++ {
		a, b := vs[i-1], vs[i]
		if a.Power > b.Power || (a.Power == b.Power && a.MarginalPrice > b.MarginalPrice) {
			return false
		}
	}
	return true
}

// Validate checks that vs is a well-formed canonical curve. Crossing
// vertices, where marginal price falls as power rises, are reported as
// ErrDegenerateCurve.
func Validate(vs []Vertex) error {
	if len(vs) == 0 {
		return ErrNoActiveVertex
	}
	for i, v := range vs {
		if !finite(v.Power) || !finite(v.MarginalPrice) {
			return fmt.Errorf("vertex %d %v: %w", i, v, ErrDegenerateCurve)
		}
	}
	if !IsOrdered(vs) {
		return fmt.Errorf("vertices not in power order: %w", ErrDegenerateCurve)
	}
	for i := 1; i < len(vs); i++ {
		if vs[i].MarginalPrice < vs[i-1].MarginalPrice-Epsilon {
			return fmt.Errorf("crossing vertices %v and %v: %w", vs[i-1], vs[i], ErrDegenerateCurve)
		}
	}
	return nil
}

// Inelastic reports whether the curve expresses a single fixed power.
func Inelastic(vs []Vertex) bool { return len(vs) == 1 }

// MaxPower returns the power of the last vertex, or 0 for an empty curve.
func MaxPower(vs []Vertex) float64 {
	if len(vs) == 0 {
		return 0
	}
	return vs[len(vs)-1].Power
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
