package events

import (
	"time"

	"github.com/kilianp07/transactive/core/model"
)

// ClearingEvent is published after each balancing pass.
type ClearingEvent struct {
	Market     string
	Iterations int
	DualityGap float64
	Converged  bool
	Forced     bool
	Intervals  []model.ClearedInterval
	Time       time.Time
}

// StateEvent is published when a market changes lifecycle state.
type StateEvent struct {
	Market string
	From   model.MarketState
	To     model.MarketState
	Time   time.Time
}

// IntervalEvent reports an interval added to or pruned from a market.
// Action is "added" or "pruned".
type IntervalEvent struct {
	Market   string
	Interval string
	Action   string
}
