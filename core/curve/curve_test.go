package curve

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

// wellFormed draws a canonical curve with 1..6 vertices.
func wellFormed(t *rapid.T) []Vertex {
	n := rapid.IntRange(1, 6).Draw(t, "n")
	p := rapid.Float64Range(-100, 100).Draw(t, "p0")
	mp := rapid.Float64Range(0, 1).Draw(t, "mp0")
	vs := make([]Vertex, 0, n)
	for i := 0; i < n; i++ {
		vs = append(vs, Vertex{MarginalPrice: mp, Power: p})
		p += rapid.Float64Range(0, 50).Draw(t, "dp")
		mp += rapid.Float64Range(0, 0.5).Draw(t, "dmp")
	}
	return vs
}

func TestOrderIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vs := wellFormed(t)
		shuffled := make([]Vertex, len(vs))
		perm := rapid.Permutation(vs).Draw(t, "perm")
		copy(shuffled, perm)

		once := Order(shuffled)
		twice := Order(once)
		if !IsOrdered(once) {
			t.Fatalf("not power ascending: %v", once)
		}
		if diff := cmp.Diff(once, twice, approx); diff != "" {
			t.Fatalf("order not idempotent (-once +twice):\n%s", diff)
		}
		if diff := cmp.Diff(vs, Order(vs), approx); diff != "" {
			t.Fatalf("sorting a sorted curve changed it:\n%s", diff)
		}
	})
}

func TestProductionMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vs := wellFormed(t)
		p1 := rapid.Float64Range(-1, 3).Draw(t, "p1")
		p2 := rapid.Float64Range(-1, 3).Draw(t, "p2")
		if p1 > p2 {
			p1, p2 = p2, p1
		}
		q1, err := Production(vs, p1)
		if err != nil {
			t.Fatalf("production: %v", err)
		}
		q2, _ := Production(vs, p2)
		if q1 > q2+Epsilon {
			t.Fatalf("production decreased: %v@%v > %v@%v on %v", q1, p1, q2, p2, vs)
		}
	})
}

func TestAggregateCommutative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, b, c := wellFormed(t), wellFormed(t), wellFormed(t)
		x := Aggregate(a, b, c)
		y := Aggregate(c, a, b)
		if diff := cmp.Diff(x, y, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Fatalf("aggregation depends on order:\n%s", diff)
		}
		require.NoError(t, Validate(x))
	})
}

func TestProductionSingleVertex(t *testing.T) {
	vs := []Vertex{{MarginalPrice: 0.05, Power: -30}}
	for _, price := range []float64{-10, 0, 0.05, 1000} {
		q, err := Production(vs, price)
		require.NoError(t, err)
		assert.Equal(t, -30.0, q)
	}
}

func TestProductionEmpty(t *testing.T) {
	_, err := Production(nil, 0.1)
	if !errors.Is(err, ErrNoActiveVertex) {
		t.Fatalf("expected ErrNoActiveVertex got %v", err)
	}
}

func TestPowerAtPriceInterpolationAndClamp(t *testing.T) {
	vs := []Vertex{{MarginalPrice: 0.02, Power: 0}, {MarginalPrice: 0.06, Power: 100}}
	assert.InDelta(t, 0, PowerAtPrice(vs, 0.01), 1e-12)
	assert.InDelta(t, 50, PowerAtPrice(vs, 0.04), 1e-9)
	assert.InDelta(t, 100, PowerAtPrice(vs, 0.5), 1e-12)
}

func TestPowerRangeFlatRun(t *testing.T) {
	vs := []Vertex{{0.04, 0, 0}, {0.04, 50, 0}, {11.02, 50, 0}, {11.02, 100, 0}}
	lo, hi := PowerRange(vs, 0.04)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 50.0, hi)
	lo, hi = PowerRange(vs, 5)
	assert.Equal(t, 50.0, lo)
	assert.Equal(t, 50.0, hi)
	assert.InDelta(t, 30, PowerAt(vs, 0.04, 0.6), 1e-9)
}

func TestPriceAtPower(t *testing.T) {
	vs := []Vertex{{MarginalPrice: 0.02, Power: 0}, {MarginalPrice: 0.06, Power: 100}}
	p, err := PriceAtPower(vs, 25)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, p, 1e-12)
	p, _ = PriceAtPower(vs, -5)
	assert.Equal(t, 0.02, p)
	p, _ = PriceAtPower(vs, 500)
	assert.Equal(t, 0.06, p)
	_, err = PriceAtPower(nil, 1)
	assert.ErrorIs(t, err, ErrNoActiveVertex)
}

func TestProductionCost(t *testing.T) {
	vs := []Vertex{{MarginalPrice: 0.02, Power: 0, Cost: 1}, {MarginalPrice: 0.06, Power: 100}}
	assert.Equal(t, 0.0, ProductionCost(vs, -1))
	assert.InDelta(t, 1, ProductionCost(vs, 0), 1e-12)
	// 1 + 0.5*(0.02+0.04)*50
	assert.InDelta(t, 2.5, ProductionCost(vs, 50), 1e-9)
	// full segment 1 + 0.5*(0.02+0.06)*100 = 5, then flat 0.06*20
	assert.InDelta(t, 6.2, ProductionCost(vs, 120), 1e-9)
}

func TestProductionCostVerticalSegment(t *testing.T) {
	vs := []Vertex{{0.04, 0, 0}, {0.04, 50, 0}, {11.02, 50, 0}, {11.02, 100, 0}}
	assert.InDelta(t, 2.0, ProductionCost(vs, 50), 1e-9)
	assert.InDelta(t, 2.0+11.02*10, ProductionCost(vs, 60), 1e-9)
}

func TestValidateDetectsCrossing(t *testing.T) {
	vs := []Vertex{{MarginalPrice: 0.5, Power: 0}, {MarginalPrice: 0.1, Power: 10}}
	assert.ErrorIs(t, Validate(vs), ErrDegenerateCurve)
	assert.ErrorIs(t, Validate([]Vertex{{MarginalPrice: math.NaN()}}), ErrDegenerateCurve)
	assert.ErrorIs(t, Validate(nil), ErrNoActiveVertex)
	assert.NoError(t, Validate([]Vertex{{0.1, 0, 0}, {0.1, 10, 0}}))
}

func TestNormalizeDropsDuplicates(t *testing.T) {
	vs := []Vertex{{0.1, 10, 0}, {0.1, 0, 0}, {0.1, 10, 0}}
	got := Normalize(vs)
	want := []Vertex{{0.1, 0, 0}, {0.1, 10, 0}}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("normalize (-want +got):\n%s", diff)
	}
}

func TestAggregateWithInelastic(t *testing.T) {
	supplier := []Vertex{{0.04, 0, 0}, {0.04, 50, 0}, {11.02, 50, 0}, {11.02, 100, 0}}
	load := []Vertex{{0, -30, 0}}
	got := Aggregate(supplier, load)
	want := []Vertex{{0.04, -30, 0}, {0.04, 20, 0}, {11.02, 20, 0}, {11.02, 70, 0}}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("aggregate (-want +got):\n%s", diff)
	}
	price, err := ClearingPrice(got)
	require.NoError(t, err)
	assert.InDelta(t, 0.04, price, 1e-12)
	lo, hi := AggregateRange(price, supplier, load)
	assert.InDelta(t, 0.6, Fill(lo, hi), 1e-12)
}

func TestAggregateAllInelastic(t *testing.T) {
	got := Aggregate([]Vertex{{0.1, 5, 0}}, []Vertex{{0.3, -2, 0}}, nil)
	require.Len(t, got, 1)
	assert.InDelta(t, 3, got[0].Power, 1e-12)
	assert.Equal(t, 0.3, got[0].MarginalPrice)
	assert.Nil(t, Aggregate(nil, nil))
}

func TestClearingPriceSimilarTriangles(t *testing.T) {
	agg := []Vertex{{0.02, -40, 0}, {0.06, 60, 0}}
	p, err := ClearingPrice(agg)
	require.NoError(t, err)
	// 0.02 - (0.04)(-40)/100
	assert.InDelta(t, 0.036, p, 1e-12)
}

func TestClearingPriceDegenerate(t *testing.T) {
	_, err := ClearingPrice([]Vertex{{0.02, 10, 0}, {0.06, 60, 0}})
	assert.ErrorIs(t, err, ErrDegenerateCurve)
	_, err = ClearingPrice([]Vertex{{0.02, -10, 0}})
	assert.ErrorIs(t, err, ErrDegenerateCurve)
	_, err = ClearingPrice(nil)
	assert.ErrorIs(t, err, ErrDegenerateCurve)
}

func TestFill(t *testing.T) {
	assert.Equal(t, 1.0, Fill(5, 5))
	assert.InDelta(t, 0.25, Fill(-10, 30), 1e-12)
	assert.Equal(t, 0.0, Fill(10, 30))
	assert.Equal(t, 1.0, Fill(-40, -30))
}
