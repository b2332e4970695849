package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
)

// PromSink exposes cleared intervals and negotiation outcomes as Prometheus
// metrics. Per-pass balancing metrics are owned by the market package.
type PromSink struct {
	cleared     *prometheus.CounterVec
	price       *prometheus.GaugeVec
	netPower    *prometheus.GaugeVec
	passSeconds *prometheus.HistogramVec
	records     *prometheus.CounterVec
	consensus   *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewPromSink registers the sink metrics on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg. A nil registerer
// defaults to the global Prometheus registerer. Collectors already present on
// reg are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		cleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleared_intervals_total",
			Help: "Cleared interval rows recorded per market",
		}, []string{"market", "converged"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cleared_marginal_price",
			Help: "Marginal price of the earliest cleared interval",
		}, []string{"market"}),
		netPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cleared_net_power",
			Help: "Net scheduled power of the earliest cleared interval",
		}, []string{"market"}),
		passSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "balancing_pass_duration_seconds",
			Help:    "Wall time of a balancing pass",
			Buckets: prometheus.DefBuckets,
		}, []string{"market", "forced"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transactive_records_total",
			Help: "Transactive records exchanged with neighbors",
		}, []string{"market", "neighbor", "direction"}),
		consensus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "negotiations_total",
			Help: "Neighbor negotiations by outcome",
		}, []string{"market", "settled"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_transitions_total",
			Help: "Market lifecycle transitions by target state",
		}, []string{"market", "to"}),
	}
	var err error
	if s.cleared, err = register(reg, s.cleared); err != nil {
		return nil, err
	}
	if s.price, err = register(reg, s.price); err != nil {
		return nil, err
	}
	if s.netPower, err = register(reg, s.netPower); err != nil {
		return nil, err
	}
	if s.passSeconds, err = register(reg, s.passSeconds); err != nil {
		return nil, err
	}
	if s.records, err = register(reg, s.records); err != nil {
		return nil, err
	}
	if s.consensus, err = register(reg, s.consensus); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordClearing counts the rows and exposes the earliest interval.
func (s *PromSink) RecordClearing(rows []model.ClearedInterval) error {
	for _, r := range rows {
		s.cleared.WithLabelValues(r.Market, strconv.FormatBool(r.Converged)).Inc()
	}
	if len(rows) > 0 {
		s.price.WithLabelValues(rows[0].Market).Set(rows[0].MarginalPrice)
		s.netPower.WithLabelValues(rows[0].Market).Set(rows[0].NetPower)
	}
	return nil
}

// RecordConvergence observes the pass duration.
func (s *PromSink) RecordConvergence(ev coremetrics.ConvergenceEvent) error {
	s.passSeconds.WithLabelValues(ev.Market, strconv.FormatBool(ev.Forced)).Observe(ev.Duration.Seconds())
	return nil
}

// RecordSignal counts the exchanged records.
func (s *PromSink) RecordSignal(ev coremetrics.SignalEvent) error {
	s.records.WithLabelValues(ev.Market, ev.Neighbor, string(ev.Direction)).Add(float64(len(ev.Records)))
	return nil
}

// RecordConsensus counts the negotiation.
func (s *PromSink) RecordConsensus(ev coremetrics.ConsensusEvent) error {
	s.consensus.WithLabelValues(ev.Market, strconv.FormatBool(ev.Settled)).Inc()
	return nil
}

// RecordState counts the transition.
func (s *PromSink) RecordState(ev coremetrics.StateEvent) error {
	s.transitions.WithLabelValues(ev.Market, ev.To).Inc()
	return nil
}
