package prediction

import (
	"sync"
	"time"

	"github.com/kilianp07/transactive/core/model"
)

// ProfileForecaster returns power from daily hourly profiles. An interval
// spanning several hours gets the time-weighted mean of the hours it covers.
type ProfileForecaster struct {
	mu       sync.RWMutex
	profiles map[string][]float64
	loc      *time.Location
}

// NewProfileForecaster returns an empty forecaster evaluating hours in loc.
// A nil loc means UTC.
func NewProfileForecaster(loc *time.Location) *ProfileForecaster {
	if loc == nil {
		loc = time.UTC
	}
	return &ProfileForecaster{profiles: make(map[string][]float64), loc: loc}
}

// SetProfile sets the 24 hourly values of asset. Profiles of another length
// are ignored and reported false.
func (p *ProfileForecaster) SetProfile(asset string, hourly []float64) bool {
	if len(hourly) != 24 {
		return false
	}
	cp := make([]float64, 24)
	copy(cp, hourly)
	p.mu.Lock()
	p.profiles[asset] = cp
	p.mu.Unlock()
	return true
}

// ForecastPower returns the profile mean over ti.
func (p *ProfileForecaster) ForecastPower(asset string, ti model.TimeInterval) (float64, bool) {
	p.mu.RLock()
	prof, ok := p.profiles[asset]
	p.mu.RUnlock()
	if !ok || ti.Duration <= 0 {
		return 0, false
	}
	var sum time.Duration
	var acc float64
	t := ti.Start.In(p.loc)
	end := ti.End().In(p.loc)
	for t.Before(end) {
		next := t.Truncate(time.Hour).Add(time.Hour)
		if next.After(end) {
			next = end
		}
		d := next.Sub(t)
		acc += prof[t.Hour()] * d.Hours()
		sum += d
		t = next
	}
	return acc / sum.Hours(), true
}
