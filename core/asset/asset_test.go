package asset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/prediction"
)

var slot = model.TimeInterval{
	Market:   "rt",
	Start:    time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
	Duration: time.Hour,
}

type fakeIO struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
}

func (f *fakeIO) GetPoint(_ context.Context, addr string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.values[addr]
	if !ok {
		return 0, errors.New("no such point")
	}
	return v, nil
}

func (f *fakeIO) SetPoint(_ context.Context, addr string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values[addr] = v
	return nil
}

func TestPointTableValidation(t *testing.T) {
	_, err := NewPointTable([]PointConfig{{Role: "measured_power", Address: "a"}, {Role: "measured_power", Address: "b"}})
	assert.Error(t, err)
	_, err = NewPointTable([]PointConfig{{Role: "voltage", Address: "a"}})
	assert.Error(t, err)
	_, err = NewPointTable([]PointConfig{{Role: "setpoint"}})
	assert.Error(t, err)

	tbl, err := NewPointTable([]PointConfig{{Role: "setpoint", Address: "bldg/hvac/sp"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, tbl[RoleSetpoint].Scale)
	_, err = tbl.Read(context.Background(), &fakeIO{}, RoleMeasuredPower)
	assert.ErrorIs(t, err, ErrPointNotConfigured)
}

func TestInelasticMetered(t *testing.T) {
	io := &fakeIO{values: map[string]float64{"bldg/meter": -42000}}
	a, err := New(Config{
		Name: "building", Power: -10,
		Points: []PointConfig{{Role: "measured_power", Address: "bldg/meter", Scale: 1000}},
	}, WithPointIO(io))
	require.NoError(t, err)
	assert.Equal(t, KindInelastic, a.Kind())

	vs, err := a.Vertices(slot)
	require.NoError(t, err)
	assert.Equal(t, []curve.Vertex{{Power: -10}}, vs)

	require.NoError(t, a.Meter(context.Background()))
	power, err := a.Schedule(slot, 0.07, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, -42, power, 1e-12)

	io.err = errors.New("timeout")
	assert.Error(t, a.Meter(context.Background()))
	vs, _ = a.Vertices(slot)
	assert.InDelta(t, -42, vs[0].Power, 1e-12)
}

func TestFlexibleCurveAndCosts(t *testing.T) {
	a, err := New(Config{Name: "gen", Kind: "flexible", Flexible: FlexibleConfig{A0: 1, A1: 0.02, A2: 0.0003, MinPower: 0, MaxPower: 100}})
	require.NoError(t, err)
	vs, err := a.Vertices(slot)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.InDelta(t, 0.02, vs[0].MarginalPrice, 1e-12)
	assert.InDelta(t, 0.08, vs[1].MarginalPrice, 1e-12)

	power, err := a.Schedule(slot, 0.05, 1)
	require.NoError(t, err)
	assert.InDelta(t, 50, power, 1e-9)
	require.NoError(t, a.UpdateCosts(slot, 0.05))
	prod, _ := a.Ledger().Scalar(model.ProductionCost, slot)
	// a0 + a1*p + a2*p^2 at p = 50
	assert.InDelta(t, 1+0.02*50+0.0003*2500, prod, 1e-9)

	fixed := FlexibleVertices(FlexibleConfig{A1: 0.03, MinPower: 5, MaxPower: 5})
	assert.Len(t, fixed, 1)
}

func TestForecastAsset(t *testing.T) {
	prof := make([]float64, 24)
	prof[18] = -25
	a, err := New(Config{Name: "hvac", Kind: "forecast", Profile: prof})
	require.NoError(t, err)
	vs, err := a.Vertices(slot)
	require.NoError(t, err)
	assert.Equal(t, -25.0, vs[0].Power)

	none := prediction.Func(func(string, model.TimeInterval) (float64, bool) { return 0, false })
	b, err := New(Config{Name: "ev", Kind: "forecast"}, WithForecaster(none))
	require.NoError(t, err)
	_, err = b.Vertices(slot)
	assert.ErrorIs(t, err, market.ErrNoActiveVertex)

	_, err = New(Config{Name: "ev", Kind: "forecast"})
	assert.Error(t, err)
}

func TestActuate(t *testing.T) {
	io := &fakeIO{values: map[string]float64{}}
	a, err := New(Config{
		Name: "battery", Kind: "flexible", Flexible: FlexibleConfig{A1: 0.04, A2: 0.0001, MinPower: -50, MaxPower: 50},
		Points: []PointConfig{{Role: "setpoint", Address: "bess/sp", Scale: 1000}},
	}, WithPointIO(io))
	require.NoError(t, err)
	var _ market.Actuator = a
	require.NoError(t, a.Actuate(context.Background(), slot, 12.5))
	assert.Equal(t, 12500.0, io.values["bess/sp"])

	plain, err := New(Config{Name: "lamp", Power: -1})
	require.NoError(t, err)
	assert.NoError(t, plain.Actuate(context.Background(), slot, -1))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Name: "x", Kind: "nuclear"}.Validate())
	assert.Error(t, Config{Name: "x", Kind: "flexible", Flexible: FlexibleConfig{MinPower: 5, MaxPower: 1}}.Validate())
	assert.Error(t, Config{Name: "x", Kind: "forecast", Profile: []float64{1}}.Validate())
	assert.Error(t, Config{Name: "x", Kind: "inelastic", Points: []PointConfig{{Role: "setpoint"}}}.Validate())
}
