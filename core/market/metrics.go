package market

import "github.com/prometheus/client_golang/prometheus"

var (
	balancingIterations *prometheus.HistogramVec
	balancingForced     *prometheus.CounterVec
	dualityGap          *prometheus.GaugeVec
	clearingPrice       *prometheus.GaugeVec
	marketState         *prometheus.GaugeVec
	activeIntervals     *prometheus.GaugeVec
	consensusRounds     *prometheus.HistogramVec
	signalsSent         *prometheus.CounterVec
	signalsReceived     *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() {
	balancingIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_balancing_iterations",
			Help:    "Iterations needed by a balancing pass",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"market"},
	)
	balancingForced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_balancing_forced_total",
			Help: "Balancing passes ended by the iteration cap",
		},
		[]string{"market"},
	)
	dualityGap = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_duality_gap",
			Help: "Duality gap at the end of the last balancing pass",
		},
		[]string{"market"},
	)
	clearingPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_last_clearing_price",
			Help: "Marginal price of the last interval cleared",
		},
		[]string{"market"},
	)
	marketState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_state",
			Help: "Lifecycle state of the market (0 inactive .. 5 expired)",
		},
		[]string{"market"},
	)
	activeIntervals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_active_intervals",
			Help: "Number of active time intervals",
		},
		[]string{"market"},
	)
	consensusRounds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_consensus_rounds",
			Help:    "Neighbor exchange rounds per negotiation",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"market", "settled"},
	)
	signalsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_signals_sent_total",
			Help: "Signals sent to neighbors",
		},
		[]string{"market", "neighbor"},
	)
	signalsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_signals_received_total",
			Help: "Signals received from neighbors",
		},
		[]string{"market", "neighbor"},
	)
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		balancingIterations, balancingForced, dualityGap, clearingPrice,
		marketState, activeIntervals, consensusRounds, signalsSent, signalsReceived,
	}
}

func init() {
	newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers market metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(collectors()...)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
