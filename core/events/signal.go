package events

import "github.com/kilianp07/transactive/core/model"

// SignalEvent is published for each signal exchanged with a neighbor.
type SignalEvent struct {
	Market    string
	Neighbor  string
	Interval  string
	Direction model.Direction
	Records   int
	// Changed is false when a received signal matched the previous one
	// within the market's signal threshold.
	Changed bool
}
