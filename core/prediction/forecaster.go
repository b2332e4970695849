package prediction

import "github.com/kilianp07/transactive/core/model"

// Forecaster predicts the average power of an asset over an interval.
type Forecaster interface {
	// ForecastPower returns the expected power of asset during ti. ok is
	// false when no forecast is available.
	ForecastPower(asset string, ti model.TimeInterval) (power float64, ok bool)
}

// Func adapts a function to the Forecaster interface.
type Func func(asset string, ti model.TimeInterval) (float64, bool)

// ForecastPower calls f.
func (f Func) ForecastPower(asset string, ti model.TimeInterval) (float64, bool) {
	return f(asset, ti)
}
