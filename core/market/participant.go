package market

import (
	"context"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/model"
)

// Participant is a scheduled entity of a market: a local asset or a neighbor.
type Participant interface {
	Name() string
	// Vertices returns the participant's canonical curve for ti, or
	// ErrNoActiveVertex when it has none.
	Vertices(ti model.TimeInterval) ([]curve.Vertex, error)
	// Schedule computes and records the participant's power for ti at price.
	Schedule(ti model.TimeInterval, price, fill float64) (float64, error)
	// UpdateCosts computes production and dual cost from the recorded schedule.
	UpdateCosts(ti model.TimeInterval, price float64) error
	Ledger() *Ledger
}

// Counterparty is a neighbor that exchanges signals with this node.
type Counterparty interface {
	Participant
	// Transactive reports whether signals are exchanged with the neighbor.
	Transactive() bool
	// ApplySignal stores the records last received from the neighbor for ti.
	ApplySignal(ti model.TimeInterval, records []model.TransactiveRecord) error
	// Heard reports whether a signal has been received for ti.
	Heard(ti model.TimeInterval) bool
}

// Actuator is implemented by participants that drive a device to the power
// scheduled for the interval in delivery.
type Actuator interface {
	Actuate(ctx context.Context, ti model.TimeInterval, power float64) error
}

// DeliveryObserver is implemented by participants that adapt to delivered
// intervals, such as a supplier tracking its demand-charge threshold.
type DeliveryObserver interface {
	ObserveDelivery(ti model.TimeInterval, power float64)
}
