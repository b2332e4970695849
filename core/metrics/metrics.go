package metrics

import (
	"time"

	"github.com/kilianp07/transactive/core/model"
)

// MetricsSink records cleared intervals for observability purposes.
type MetricsSink interface {
	RecordClearing(intervals []model.ClearedInterval) error
}

// ConvergenceEvent summarizes one balancing pass of a market.
type ConvergenceEvent struct {
	Market     string
	Iterations int
	DualityGap float64
	Converged  bool
	Forced     bool
	Duration   time.Duration
	Time       time.Time
}

// ConvergenceRecorder is implemented by sinks able to record balancing passes.
type ConvergenceRecorder interface {
	RecordConvergence(ev ConvergenceEvent) error
}

// SignalEvent records one signal exchanged with a neighbor.
type SignalEvent struct {
	Market    string
	Neighbor  string
	Interval  string
	Direction model.Direction
	Records   []model.TransactiveRecord
	Time      time.Time
}

// SignalRecorder is implemented by sinks able to record exchanged signals.
type SignalRecorder interface {
	RecordSignal(ev SignalEvent) error
}

// ConsensusEvent summarizes one negotiation across neighbor rounds.
type ConsensusEvent struct {
	Market   string
	Rounds   int
	Settled  bool
	Sent     int
	Received int
	Time     time.Time
}

// ConsensusRecorder is implemented by sinks able to record negotiations.
type ConsensusRecorder interface {
	RecordConsensus(ev ConsensusEvent) error
}

// StateEvent records a market lifecycle transition.
type StateEvent struct {
	Market string
	From   string
	To     string
	Time   time.Time
}

// StateRecorder is implemented by sinks able to record market transitions.
type StateRecorder interface {
	RecordState(ev StateEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordClearing([]model.ClearedInterval) error { return nil }
func (NopSink) RecordConvergence(ConvergenceEvent) error     { return nil }
func (NopSink) RecordSignal(SignalEvent) error               { return nil }
func (NopSink) RecordConsensus(ConsensusEvent) error         { return nil }
func (NopSink) RecordState(StateEvent) error                 { return nil }
