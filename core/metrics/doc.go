// Package metrics defines the sinks that record cleared market intervals.
// Sinks like PromSink, InfluxSink and JournalSink live in infra/metrics and
// register themselves in the sink registry; NewMetricsSink combines several
// configured sinks into a MultiSink. Optional capabilities such as
// ConvergenceRecorder are discovered by type assertion.
package metrics
