// Package eventbus fans market events out to in-process subscribers such as
// the metrics collector.
package eventbus

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation.
type Bus struct {
	*TypedBus[Event]
}

// New creates a new Bus.
func New(opts ...Option) *Bus { return &Bus{NewTyped[Event](opts...)} }
