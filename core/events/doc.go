// Package events defines the market related events emitted on the event bus.
//
// Available event types:
//   - ClearingEvent: a market finished a balancing pass
//   - StateEvent: a market moved to a new lifecycle state
//   - IntervalEvent: an interval was opened or pruned
//   - SignalEvent: a signal was sent to or received from a neighbor
package events
