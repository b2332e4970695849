package node

import "github.com/prometheus/client_golang/prometheus"

var (
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	panics        *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() {
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_cycles_total",
			Help: "Market cycles run by the node",
		},
		[]string{"node", "outcome"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_cycle_duration_seconds",
			Help:    "Duration of a market cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)
	panics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_cycle_panics_total",
			Help: "Cycles aborted by a recovered panic",
		},
		[]string{"node"},
	)
}

func init() {
	newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers node metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cycles, cycleDuration, panics)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
