// Package asset models the local devices scheduled by a market: fixed or
// metered loads, generators with a quadratic cost and forecast driven loads.
package asset

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/prediction"
)

// Asset is a local participant of a market.
type Asset struct {
	*market.Entity
	cfg        Config
	points     PointTable
	io         PointIO
	forecaster prediction.Forecaster

	mu      sync.Mutex
	metered *float64
}

// Option configures an Asset.
type Option func(*Asset)

// WithPointIO sets the device I/O used by metering and actuation.
func WithPointIO(io PointIO) Option { return func(a *Asset) { a.io = io } }

// WithForecaster overrides the forecaster of a forecast asset.
func WithForecaster(f prediction.Forecaster) Option { return func(a *Asset) { a.forecaster = f } }

// New builds the asset described by cfg.
func New(cfg Config, opts ...Option) (*Asset, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	points, _ := NewPointTable(cfg.Points)
	a := &Asset{cfg: cfg, points: points}
	if Kind(cfg.Kind) == KindForecast && len(cfg.Profile) == 24 {
		pf := prediction.NewProfileForecaster(nil)
		pf.SetProfile(cfg.Name, cfg.Profile)
		a.forecaster = pf
	}
	for _, opt := range opts {
		opt(a)
	}
	if Kind(cfg.Kind) == KindForecast && a.forecaster == nil {
		return nil, fmt.Errorf("asset %s: forecast asset needs a profile or forecaster", cfg.Name)
	}
	switch Kind(cfg.Kind) {
	case KindFlexible:
		vs := FlexibleVertices(cfg.Flexible)
		a.Entity = market.NewEntity(cfg.Name, func(model.TimeInterval) ([]curve.Vertex, error) { return vs, nil })
	case KindForecast:
		a.Entity = market.NewEntity(cfg.Name, a.forecast)
	default:
		a.Entity = market.NewEntity(cfg.Name, a.inelastic)
	}
	return a, nil
}

// Kind returns the asset kind.
func (a *Asset) Kind() Kind { return Kind(a.cfg.Kind) }

// Market returns the name of the market the asset is scheduled in.
func (a *Asset) Market() string { return a.cfg.Market }

// Points returns the asset's point table.
func (a *Asset) Points() PointTable { return a.points }

func (a *Asset) inelastic(model.TimeInterval) ([]curve.Vertex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	power := a.cfg.Power
	if a.metered != nil {
		power = *a.metered
	}
	return []curve.Vertex{{MarginalPrice: a.cfg.Price, Power: power}}, nil
}

func (a *Asset) forecast(ti model.TimeInterval) ([]curve.Vertex, error) {
	p, ok := a.forecaster.ForecastPower(a.cfg.Name, ti)
	if !ok {
		return nil, fmt.Errorf("asset %s: no forecast for %s: %w", a.cfg.Name, ti.ID(), market.ErrNoActiveVertex)
	}
	return []curve.Vertex{{MarginalPrice: a.cfg.Price, Power: p}}, nil
}

// Meter reads the measured power point. Assets without one are left
// unchanged.
func (a *Asset) Meter(ctx context.Context) error {
	if a.io == nil || !a.points.Has(RoleMeasuredPower) {
		return nil
	}
	p, err := a.points.Read(ctx, a.io, RoleMeasuredPower)
	if err != nil {
		return fmt.Errorf("asset %s: %w", a.cfg.Name, err)
	}
	a.mu.Lock()
	a.metered = &p
	a.mu.Unlock()
	return nil
}

// Actuate writes the power scheduled for ti to the setpoint point.
func (a *Asset) Actuate(ctx context.Context, ti model.TimeInterval, power float64) error {
	if a.io == nil || !a.points.Has(RoleSetpoint) {
		return nil
	}
	if err := a.points.Write(ctx, a.io, RoleSetpoint, power); err != nil {
		return fmt.Errorf("asset %s interval %s: %w", a.cfg.Name, ti.ID(), err)
	}
	return nil
}

// FlexibleVertices returns the marginal cost curve of a quadratic cost. The
// first vertex carries the cost at MinPower.
func FlexibleVertices(f FlexibleConfig) []curve.Vertex {
	marginal := func(p float64) float64 { return f.A1 + 2*f.A2*p }
	first := curve.Vertex{
		MarginalPrice: marginal(f.MinPower),
		Power:         f.MinPower,
		Cost:          f.A0 + f.A1*f.MinPower + f.A2*f.MinPower*f.MinPower,
	}
	if f.MaxPower-f.MinPower <= curve.Epsilon {
		return []curve.Vertex{first}
	}
	return []curve.Vertex{first, {MarginalPrice: marginal(f.MaxPower), Power: f.MaxPower}}
}
