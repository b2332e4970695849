package neighbor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/signal"
)

var hour = model.TimeInterval{
	Market:   "rt",
	Start:    time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	Duration: time.Hour,
}

func supplier() SupplierConfig {
	return SupplierConfig{MinPower: 0, MaxPower: 100, Price: 0.04, DemandRate: 10.98, DemandThreshold: 50}
}

func prices(vs []curve.Vertex) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v.MarginalPrice
	}
	return out
}

func powers(vs []curve.Vertex) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v.Power
	}
	return out
}

func TestSupplierVerticesThresholdInside(t *testing.T) {
	vs := supplier().Vertices(hour, 50)
	require.Len(t, vs, 4)
	assert.Equal(t, []float64{0, 50, 50, 100}, powers(vs))
	assert.InDeltaSlice(t, []float64{0.04, 0.04, 11.02, 11.02}, prices(vs), 1e-12)
	assert.NoError(t, curve.Validate(vs))
}

func TestSupplierVerticesThresholdOutside(t *testing.T) {
	for _, th := range []float64{-5, 0, 100, 101} {
		vs := supplier().Vertices(hour, th)
		require.Len(t, vs, 2, "threshold %v", th)
		assert.Equal(t, []float64{0, 100}, powers(vs))
		assert.InDeltaSlice(t, []float64{0.04, 0.04}, prices(vs), 1e-12)
	}
}

func TestSupplierLossFactorAndTimeOfUse(t *testing.T) {
	cfg := supplier()
	cfg.LossFactor = 0.01
	cfg.BillingIntervals = 2
	cfg.TimeOfUse = make([]float64, 24)
	cfg.TimeOfUse[14] = 0.08
	vs := cfg.Vertices(hour, 50)
	peak := 0.08 + 10.98/2
	assert.InDeltaSlice(t, []float64{0.08, 0.08 * 1.01, peak * 1.01, peak * 1.02}, prices(vs), 1e-12)

	half := hour
	half.Duration = 30 * time.Minute
	assert.InDelta(t, 10.98, cfg.DemandAdder(half), 1e-12)
}

func TestBulkSupplierRatchet(t *testing.T) {
	b := NewBulkSupplier("grid", supplier())
	b.ObserveDelivery(hour, 30)
	assert.Equal(t, 50.0, b.Threshold())
	b.ObserveDelivery(hour, 70)
	assert.Equal(t, 70.0, b.Threshold())

	vs, err := b.Vertices(hour)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 70, 70, 100}, powers(vs))
}

func TestBulkSupplierClearsOnKink(t *testing.T) {
	cases := []struct {
		load, price, supplied float64
	}{
		{-30, 0.04, 30},
		{-70, 11.02, 70},
	}
	for _, c := range cases {
		m, err := market.New(market.Config{Name: "rt", HorizonIntervals: 1, Method: "interpolation"}, nil)
		require.NoError(t, err)
		grid := NewBulkSupplier("grid", supplier())
		require.NoError(t, m.AddParticipant(grid))
		require.NoError(t, m.AddParticipant(NewStatic("building", []curve.Vertex{{Power: c.load}})))

		res, err := m.Clear(context.Background(), hour.Start.Add(10*time.Minute))
		require.NoError(t, err)
		assert.False(t, res.Forced)
		assert.InDelta(t, c.price, res.Intervals[0].MarginalPrice, 1e-9)
		assert.InDelta(t, c.supplied, grid.Ledger().Power(m.Intervals()[0]), 1e-9)
	}
}

func TestTransactiveUsesLatestSignal(t *testing.T) {
	fallback := []curve.Vertex{{MarginalPrice: 0.05, Power: -20}}
	n := NewTransactive("feeder", fallback)
	assert.True(t, n.Transactive())

	vs, err := n.Vertices(hour)
	require.NoError(t, err)
	assert.Equal(t, fallback, vs)
	assert.False(t, n.Heard(hour))

	offered := []curve.Vertex{{MarginalPrice: 0.02, Power: -100}, {MarginalPrice: 0.10, Power: 0}}
	recs := signal.Encode(offered, signal.Meta{Market: "rt", IntervalID: hour.ID(), NeighborID: "feeder", Direction: model.Received, Timestamp: hour.Start})
	require.NoError(t, n.ApplySignal(hour, recs))
	vs, err = n.Vertices(hour)
	require.NoError(t, err)
	assert.Equal(t, offered, vs)
	assert.True(t, n.Heard(hour))

	power, err := n.Schedule(hour, 0.06, 1)
	require.NoError(t, err)
	assert.InDelta(t, -50, power, 1e-9)

	n.Ledger().PruneInterval(hour)
	vs, _ = n.Vertices(hour)
	assert.Equal(t, fallback, vs)
	assert.False(t, n.Heard(hour))

	assert.Error(t, n.ApplySignal(hour, nil))
}

func TestTransactiveWithoutSignalOrFallback(t *testing.T) {
	n := NewTransactive("feeder", nil)
	_, err := n.Vertices(hour)
	assert.ErrorIs(t, err, market.ErrNoActiveVertex)
}

func TestNewFromConfig(t *testing.T) {
	p, err := New(Config{Name: "up", Kind: "static", Vertices: []curve.Vertex{{MarginalPrice: 0.05, Power: 10}}})
	require.NoError(t, err)
	_, ok := p.(market.Counterparty)
	assert.False(t, ok)

	p, err = New(Config{Name: "peer"})
	require.NoError(t, err)
	cp, ok := p.(market.Counterparty)
	require.True(t, ok)
	assert.True(t, cp.Transactive())

	p, err = New(Config{Name: "grid", Kind: "bulk_supplier", Supplier: supplier()})
	require.NoError(t, err)
	_, ok = p.(market.DeliveryObserver)
	assert.True(t, ok)

	_, err = New(Config{Name: "x", Kind: "static"})
	assert.ErrorIs(t, err, curve.ErrNoActiveVertex)
	_, err = New(Config{Name: "x", Kind: "bulk_supplier"})
	assert.Error(t, err)
	_, err = New(Config{Name: "x", Kind: "wormhole"})
	assert.Error(t, err)
	_, err = New(Config{Name: "x", Kind: "static", Vertices: []curve.Vertex{{MarginalPrice: 0.1, Power: 0, Cost: 0}, {MarginalPrice: 0.05, Power: 10, Cost: 0}}})
	assert.ErrorIs(t, err, curve.ErrDegenerateCurve)
}
