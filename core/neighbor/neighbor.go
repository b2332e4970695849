// Package neighbor models the nodes and suppliers a market trades with.
package neighbor

import (
	"fmt"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/signal"
)

// New builds the neighbor described by cfg.
func New(cfg Config) (market.Participant, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch Kind(cfg.Kind) {
	case KindStatic:
		return NewStatic(cfg.Name, cfg.Vertices), nil
	case KindBulkSupplier:
		return NewBulkSupplier(cfg.Name, cfg.Supplier), nil
	default:
		return NewTransactive(cfg.Name, cfg.Vertices), nil
	}
}

// Static is a neighbor with a fixed curve.
type Static struct {
	*market.Entity
}

// NewStatic returns a neighbor offering vs in every interval.
func NewStatic(name string, vs []curve.Vertex) *Static {
	vs = curve.Normalize(vs)
	return &Static{market.NewEntity(name, func(model.TimeInterval) ([]curve.Vertex, error) {
		return vs, nil
	})}
}

// Transactive is a neighbor node exchanging signals with this one. Its curve
// is the latest signal received for the interval, or the fallback curve until
// one arrives.
type Transactive struct {
	*market.Entity
	fallback []curve.Vertex
}

// NewTransactive returns a transactive neighbor. fallback may be empty.
func NewTransactive(name string, fallback []curve.Vertex) *Transactive {
	t := &Transactive{fallback: curve.Normalize(fallback)}
	t.Entity = market.NewEntity(name, t.current)
	return t
}

func (t *Transactive) current(ti model.TimeInterval) ([]curve.Vertex, error) {
	if vs, ok := t.Ledger().Curve(model.ReceivedVertices, ti); ok {
		return vs, nil
	}
	if len(t.fallback) == 0 {
		return nil, fmt.Errorf("neighbor %s: no signal for %s: %w", t.Name(), ti.ID(), market.ErrNoActiveVertex)
	}
	return t.fallback, nil
}

// Transactive reports that signals are exchanged with this neighbor.
func (t *Transactive) Transactive() bool { return true }

// Heard reports whether the neighbor has sent a signal for ti.
func (t *Transactive) Heard(ti model.TimeInterval) bool {
	_, ok := t.Ledger().Curve(model.ReceivedVertices, ti)
	return ok
}

// ApplySignal decodes the records received for ti and uses them as the
// neighbor's curve.
func (t *Transactive) ApplySignal(ti model.TimeInterval, records []model.TransactiveRecord) error {
	vs, err := signal.Decode(records)
	if err != nil {
		return fmt.Errorf("neighbor %s: %w", t.Name(), err)
	}
	t.Ledger().StoreCurve(model.ReceivedVertices, ti, vs)
	return nil
}
