package model

import (
	"sort"
	"sync"
	"time"
)

// MeasurementType names the quantity an IntervalValue carries.
type MeasurementType string

const (
	ScheduledPower MeasurementType = "scheduled_power"
	ActiveVertices MeasurementType = "active_vertices"
	// ReceivedVertices is the curve last received from a neighbor.
	ReceivedVertices MeasurementType = "received_vertices"
	ProductionCost   MeasurementType = "production_cost"
	DualCost         MeasurementType = "dual_cost"
	ReserveMargin    MeasurementType = "reserve_margin"
	Engagement       MeasurementType = "engagement"
	MarginalPrice    MeasurementType = "marginal_price"
	NetPower         MeasurementType = "net_power"
	Generation       MeasurementType = "generation"
	Demand           MeasurementType = "demand"
)

// ValueKey identifies one IntervalValue. At most one value exists per key.
type ValueKey struct {
	Owner    string
	Interval string
	Market   string
	Kind     MeasurementType
}

// IntervalValue binds a value to an (owner, interval, market, kind) key.
type IntervalValue[T any] struct {
	Key       ValueKey
	Start     time.Time
	Value     T
	UpdatedAt time.Time
}

// ValueSet stores IntervalValues keyed by ValueKey. Writes to an existing key
// overwrite it in place.
type ValueSet[T any] struct {
	mu     sync.RWMutex
	values map[ValueKey]*IntervalValue[T]
}

// NewValueSet returns an empty set.
func NewValueSet[T any]() *ValueSet[T] {
	return &ValueSet[T]{values: make(map[ValueKey]*IntervalValue[T])}
}

// Set stores v for the key derived from owner, kind and ti.
func (s *ValueSet[T]) Set(owner string, kind MeasurementType, ti TimeInterval, v T, now time.Time) {
	key := ValueKey{Owner: owner, Interval: ti.ID(), Market: ti.Market, Kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	if iv, ok := s.values[key]; ok {
		iv.Value = v
		iv.UpdatedAt = now
		return
	}
	s.values[key] = &IntervalValue[T]{Key: key, Start: ti.Start, Value: v, UpdatedAt: now}
}

// Get returns the value stored for the key.
func (s *ValueSet[T]) Get(owner string, kind MeasurementType, ti TimeInterval) (T, bool) {
	key := ValueKey{Owner: owner, Interval: ti.ID(), Market: ti.Market, Kind: kind}
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.values[key]
	if !ok {
		var zero T
		return zero, false
	}
	return iv.Value, true
}

// Prune drops every value whose interval started before cutoff and returns
// the number removed.
func (s *ValueSet[T]) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, iv := range s.values {
		if iv.Start.Before(cutoff) {
			delete(s.values, k)
			n++
		}
	}
	return n
}

// PruneInterval drops every value of one interval.
func (s *ValueSet[T]) PruneInterval(market, intervalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		if k.Market == market && k.Interval == intervalID {
			delete(s.values, k)
		}
	}
}

// Len returns the number of stored values.
func (s *ValueSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Values returns a copy of the stored values of one kind ordered by interval
// start then owner.
func (s *ValueSet[T]) Values(kind MeasurementType) []IntervalValue[T] {
	s.mu.RLock()
	out := make([]IntervalValue[T], 0, len(s.values))
	for _, iv := range s.values {
		if iv.Key.Kind == kind {
			out = append(out, *iv)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Key.Owner < out[j].Key.Owner
	})
	return out
}
