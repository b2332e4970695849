package market

import (
	"math"
	"time"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/model"
)

// Ledger holds the per-interval values of one scheduled entity: its active
// vertices, scheduled power, costs, reserve margin and engagement.
type Ledger struct {
	owner    string
	vertices *model.ValueSet[[]curve.Vertex]
	scalars  *model.ValueSet[float64]
	engaged  *model.ValueSet[bool]
	now      func() time.Time
}

// NewLedger returns an empty ledger for owner.
func NewLedger(owner string) *Ledger {
	return &Ledger{
		owner:    owner,
		vertices: model.NewValueSet[[]curve.Vertex](),
		scalars:  model.NewValueSet[float64](),
		engaged:  model.NewValueSet[bool](),
		now:      time.Now,
	}
}

// Owner returns the entity name the ledger belongs to.
func (l *Ledger) Owner() string { return l.owner }

// Commit records the entity's curve and scheduled power for ti.
func (l *Ledger) Commit(ti model.TimeInterval, vs []curve.Vertex, power float64) {
	now := l.now()
	l.vertices.Set(l.owner, model.ActiveVertices, ti, vs, now)
	l.scalars.Set(l.owner, model.ScheduledPower, ti, power, now)
	l.scalars.Set(l.owner, model.ReserveMargin, ti, math.Max(curve.MaxPower(vs)-power, 0), now)
	l.engaged.Set(l.owner, model.Engagement, ti, math.Abs(power) > curve.Epsilon, now)
}

// SetCosts records production and dual cost for ti.
func (l *Ledger) SetCosts(ti model.TimeInterval, production, dual float64) {
	now := l.now()
	l.scalars.Set(l.owner, model.ProductionCost, ti, production, now)
	l.scalars.Set(l.owner, model.DualCost, ti, dual, now)
}

// Vertices returns the active vertices recorded for ti.
func (l *Ledger) Vertices(ti model.TimeInterval) ([]curve.Vertex, bool) {
	return l.vertices.Get(l.owner, model.ActiveVertices, ti)
}

// StoreCurve records a curve of kind for ti, such as the vertices received
// from a neighbor.
func (l *Ledger) StoreCurve(kind model.MeasurementType, ti model.TimeInterval, vs []curve.Vertex) {
	l.vertices.Set(l.owner, kind, ti, vs, l.now())
}

// Curve returns the curve of kind recorded for ti.
func (l *Ledger) Curve(kind model.MeasurementType, ti model.TimeInterval) ([]curve.Vertex, bool) {
	return l.vertices.Get(l.owner, kind, ti)
}

// Scalar returns a scalar value of kind recorded for ti.
func (l *Ledger) Scalar(kind model.MeasurementType, ti model.TimeInterval) (float64, bool) {
	return l.scalars.Get(l.owner, kind, ti)
}

// Power returns the scheduled power for ti, zero when unscheduled.
func (l *Ledger) Power(ti model.TimeInterval) float64 {
	p, _ := l.Scalar(model.ScheduledPower, ti)
	return p
}

// Engaged reports whether the entity is scheduled to exchange power in ti.
func (l *Ledger) Engaged(ti model.TimeInterval) bool {
	e, _ := l.engaged.Get(l.owner, model.Engagement, ti)
	return e
}

// PruneInterval drops every value of one interval.
func (l *Ledger) PruneInterval(ti model.TimeInterval) {
	l.vertices.PruneInterval(ti.Market, ti.ID())
	l.scalars.PruneInterval(ti.Market, ti.ID())
	l.engaged.PruneInterval(ti.Market, ti.ID())
}

// Len returns the number of stored values.
func (l *Ledger) Len() int { return l.vertices.Len() + l.scalars.Len() + l.engaged.Len() }

// CurveFunc produces an entity's curve for an interval.
type CurveFunc func(ti model.TimeInterval) ([]curve.Vertex, error)

// Entity implements the scheduling contract shared by every participant on
// top of a CurveFunc. Asset and neighbor variants embed it.
type Entity struct {
	name   string
	ledger *Ledger
	curve  CurveFunc
}

// NewEntity returns an Entity named name whose curve is produced by fn.
func NewEntity(name string, fn CurveFunc) *Entity {
	return &Entity{name: name, ledger: NewLedger(name), curve: fn}
}

func (e *Entity) Name() string    { return e.name }
func (e *Entity) Ledger() *Ledger { return e.ledger }

// Vertices returns the canonical curve for ti.
func (e *Entity) Vertices(ti model.TimeInterval) ([]curve.Vertex, error) {
	vs, err := e.curve(ti)
	if err != nil {
		return nil, err
	}
	vs = curve.Normalize(vs)
	if len(vs) == 0 {
		return nil, ErrNoActiveVertex
	}
	return vs, nil
}

// Schedule evaluates the curve at price, resolving a flat run at price by
// fill, and records the result.
func (e *Entity) Schedule(ti model.TimeInterval, price, fill float64) (float64, error) {
	vs, err := e.Vertices(ti)
	if err != nil {
		return 0, err
	}
	power := curve.PowerAt(vs, price, fill)
	e.ledger.Commit(ti, vs, power)
	return power, nil
}

// UpdateCosts computes production cost as the area under the curve up to the
// scheduled power and dual cost as production cost minus price times power.
func (e *Entity) UpdateCosts(ti model.TimeInterval, price float64) error {
	return UpdateLedgerCosts(e.ledger, ti, price)
}

// UpdateLedgerCosts is the cost update of UpdateCosts for any ledger.
func UpdateLedgerCosts(l *Ledger, ti model.TimeInterval, price float64) error {
	vs, ok := l.Vertices(ti)
	if !ok || len(vs) == 0 {
		return ErrNoActiveVertex
	}
	power := l.Power(ti)
	production := curve.ProductionCost(vs, power)
	l.SetCosts(ti, production, production-price*power)
	return nil
}
