package model

import (
	"sort"
	"time"
)

// ClearingParams is the snapshot of a market's clearing configuration taken
// when an interval is created. Later configuration changes do not alter it.
type ClearingParams struct {
	Method              string        `json:"method"`
	DefaultPrice        float64       `json:"default_price"`
	DualityGapThreshold float64       `json:"duality_gap_threshold"`
	DeliveryLead        time.Duration `json:"delivery_lead"`
}

// TimeInterval is one delivery period cleared by a market.
type TimeInterval struct {
	Market     string         `json:"market"`
	Activation time.Time      `json:"activation"`
	Start      time.Time      `json:"start"`
	Duration   time.Duration  `json:"duration"`
	Params     ClearingParams `json:"params"`
}

// ID identifies the interval within its market.
func (ti TimeInterval) ID() string { return IntervalID(ti.Start) }

// IntervalID formats a start time as an interval identifier.
func IntervalID(start time.Time) string { return start.UTC().Format(time.RFC3339) }

// End returns the end of the delivery period.
func (ti TimeInterval) End() time.Time { return ti.Start.Add(ti.Duration) }

// Elapsed reports whether the delivery window has fully passed.
func (ti TimeInterval) Elapsed(now time.Time) bool { return !now.Before(ti.End()) }

// Hours returns the interval duration in hours.
func (ti TimeInterval) Hours() float64 { return ti.Duration.Hours() }

// State derives the interval's market state at now. cleared reports whether
// the owning market has converged on this interval.
func (ti TimeInterval) State(now time.Time, cleared bool) MarketState {
	switch {
	case ti.Elapsed(now):
		return StateExpired
	case now.Before(ti.Activation):
		return StateInactive
	case !cleared:
		return StateNegotiation
	case now.Before(ti.Start.Add(-ti.Params.DeliveryLead)):
		return StateMarketLead
	case now.Before(ti.Start):
		return StateDeliveryLead
	default:
		return StateDelivery
	}
}

// IntervalSchedule describes how a market lays out its future intervals.
type IntervalSchedule struct {
	Market         string
	Duration       time.Duration
	Horizon        int
	ActivationLead time.Duration
}

// Refresh brings the active interval list up to date at now. Intervals whose
// delivery window has elapsed are pruned; missing intervals of the horizon are
// created with params. Intervals already present for a start time are kept as
// they are, so repeated calls are idempotent.
func (s IntervalSchedule) Refresh(existing []TimeInterval, now time.Time, params ClearingParams) (active, added, pruned []TimeInterval) {
	byStart := make(map[int64]TimeInterval, len(existing))
	for _, ti := range existing {
		if ti.Elapsed(now) {
			pruned = append(pruned, ti)
			continue
		}
		byStart[ti.Start.UnixNano()] = ti
	}
	if s.Duration > 0 {
		first := now.Truncate(s.Duration)
		for i := 0; i < s.Horizon; i++ {
			start := first.Add(time.Duration(i) * s.Duration)
			if _, ok := byStart[start.UnixNano()]; ok {
				continue
			}
			ti := TimeInterval{
				Market:     s.Market,
				Activation: start.Add(-s.ActivationLead),
				Start:      start,
				Duration:   s.Duration,
				Params:     params,
			}
			byStart[start.UnixNano()] = ti
			added = append(added, ti)
		}
	}
	active = make([]TimeInterval, 0, len(byStart))
	for _, ti := range byStart {
		active = append(active, ti)
	}
	SortIntervals(active)
	return active, added, pruned
}

// SortIntervals orders intervals by start time.
func SortIntervals(tis []TimeInterval) {
	sort.Slice(tis, func(i, j int) bool { return tis[i].Start.Before(tis[j].Start) })
}
