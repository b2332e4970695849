package metrics

import (
	"errors"

	"github.com/kilianp07/transactive/core/model"
)

// MultiSink forwards events to multiple sinks. Optional recorder capabilities
// are forwarded to the sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink from the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordClearing(intervals []model.ClearedInterval) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordClearing(intervals); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordConvergence(ev ConvergenceEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ConvergenceRecorder); ok {
			if err := r.RecordConvergence(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordSignal(ev SignalEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(SignalRecorder); ok {
			if err := r.RecordSignal(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordConsensus(ev ConsensusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ConsensusRecorder); ok {
			if err := r.RecordConsensus(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordState(ev StateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(StateRecorder); ok {
			if err := r.RecordState(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
