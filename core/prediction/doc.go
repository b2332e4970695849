// Package prediction provides power forecasts for local assets whose
// consumption or generation is not price responsive but varies over the day.
package prediction
