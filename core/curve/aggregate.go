package curve

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Aggregate sums curves into a single canonical curve. Each elastic curve
// contributes its power-at-price function, evaluated at the union of all
// breakpoint prices on both sides of every flat run; single-vertex curves add
// a constant. The result does not depend on the order of curves.
func Aggregate(curves ...[]Vertex) []Vertex {
	var (
		constants []float64
		inelastic bool
		maxPrice  = math.Inf(-1)
		elastic   [][]Vertex
		prices    []float64
	)
	for _, c := range curves {
		switch len(c) {
		case 0:
			continue
		case 1:
			inelastic = true
			constants = append(constants, c[0].Power)
			maxPrice = math.Max(maxPrice, c[0].MarginalPrice)
		default:
			elastic = append(elastic, c)
			for _, v := range c {
				prices = append(prices, v.MarginalPrice)
			}
		}
	}
	constant := floats.Sum(constants)
	if len(elastic) == 0 {
		if !inelastic {
			return nil
		}
		return []Vertex{{MarginalPrice: maxPrice, Power: constant}}
	}
	sort.Float64s(prices)
	out := make([]Vertex, 0, 2*len(prices))
	for i, p := range prices {
		if i > 0 && p-prices[i-1] <= Epsilon {
			continue
		}
		lo, hi := constant, constant
		for _, c := range elastic {
			l, h := PowerRange(c, p)
			lo += l
			hi += h
		}
		out = append(out, Vertex{MarginalPrice: p, Power: lo})
		if hi-lo > Epsilon {
			out = append(out, Vertex{MarginalPrice: p, Power: hi})
		}
	}
	return Normalize(out)
}

// AggregateRange returns the summed power range of all curves at price.
func AggregateRange(price float64, curves ...[]Vertex) (lo, hi float64) {
	for _, c := range curves {
		l, h := PowerRange(c, price)
		lo += l
		hi += h
	}
	return lo, hi
}
