// Package market implements the balancing engine of a transactive node: the
// market owns the active time intervals, asks every participant to schedule
// against the current marginal prices and iterates price updates until the
// duality gap closes. ConsensusMarket adds the signal exchange with
// neighboring nodes on top of the same loop.
package market

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/internal/eventbus"
)

// Market clears one series of time intervals. Clear is the only writer of the
// market's interval state; concurrent calls are serialized.
type Market struct {
	cfg      Config
	schedule model.IntervalSchedule
	log      logger.Logger
	bus      eventbus.EventBus
	sink     metrics.MetricsSink

	mu           sync.Mutex
	participants []Participant
	names        map[string]struct{}
	intervals    []model.TimeInterval
	prices       map[string]float64
	cleared      map[string]bool
	system       map[string][]curve.Vertex
	rows         map[string]model.ClearedInterval

	snapMu   sync.RWMutex
	state    model.MarketState
	snapshot []model.ClearedInterval
	last     Result
}

// New creates a market from cfg. Defaults are applied before validation.
func New(cfg Config, log logger.Logger) (*Market, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Market{
		cfg: cfg,
		schedule: model.IntervalSchedule{
			Market:         cfg.Name,
			Duration:       cfg.Interval(),
			Horizon:        cfg.HorizonIntervals,
			ActivationLead: time.Duration(cfg.ActivationLeadMinutes) * time.Minute,
		},
		log:     logger.OrNop(log),
		sink:    metrics.NopSink{},
		names:   make(map[string]struct{}),
		prices:  make(map[string]float64),
		cleared: make(map[string]bool),
		system:  make(map[string][]curve.Vertex),
		rows:    make(map[string]model.ClearedInterval),
		state:   model.StateInactive,
	}, nil
}

// SetBus configures the bus receiving market events.
func (m *Market) SetBus(bus eventbus.EventBus) {
	m.mu.Lock()
	m.bus = bus
	m.mu.Unlock()
}

// SetSink configures the sink recording cleared intervals.
func (m *Market) SetSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Name returns the market name.
func (m *Market) Name() string { return m.cfg.Name }

// Config returns the market configuration with defaults applied.
func (m *Market) Config() Config { return m.cfg }

// AddParticipant registers a participant. Names must be unique per market.
func (m *Market) AddParticipant(p Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[p.Name()]; ok {
		return fmt.Errorf("market %s: %s: %w", m.cfg.Name, p.Name(), ErrDuplicateParticipant)
	}
	m.names[p.Name()] = struct{}{}
	m.participants = append(m.participants, p)
	return nil
}

// Participants returns the registered participants in registration order.
func (m *Market) Participants() []Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Participant(nil), m.participants...)
}

// Counterparties returns the participants exchanging signals with this node.
func (m *Market) Counterparties() []Counterparty {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Counterparty
	for _, p := range m.participants {
		if cp, ok := p.(Counterparty); ok && cp.Transactive() {
			out = append(out, cp)
		}
	}
	return out
}

// Intervals returns the active intervals ordered by start.
func (m *Market) Intervals() []model.TimeInterval {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TimeInterval(nil), m.intervals...)
}

// Interval looks up an active interval by id.
func (m *Market) Interval(id string) (model.TimeInterval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ti := range m.intervals {
		if ti.ID() == id {
			return ti, true
		}
	}
	return model.TimeInterval{}, false
}

// OpenIntervals returns the active intervals still being balanced at now.
func (m *Market) OpenIntervals(now time.Time) []model.TimeInterval {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openIntervals(now)
}

func (m *Market) openIntervals(now time.Time) []model.TimeInterval {
	var out []model.TimeInterval
	for _, ti := range m.intervals {
		switch ti.State(now, m.cleared[ti.ID()]) {
		case model.StateNegotiation, model.StateMarketLead, model.StateDeliveryLead:
			out = append(out, ti)
		}
	}
	return out
}

// Price returns the current marginal price of an interval.
func (m *Market) Price(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id]
	return p, ok
}

// SystemVertices returns the aggregate curve of the last converged pass.
func (m *Market) SystemVertices(id string) []curve.Vertex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]curve.Vertex(nil), m.system[id]...)
}

// Residual aggregates the curves recorded for ti by every participant except
// exclude. It is the net surplus this node offers to that neighbor.
func (m *Market) Residual(ti model.TimeInterval, exclude string) []curve.Vertex {
	m.mu.Lock()
	defer m.mu.Unlock()
	var curves [][]curve.Vertex
	for _, p := range m.participants {
		if p.Name() == exclude {
			continue
		}
		if vs, ok := p.Ledger().Vertices(ti); ok {
			curves = append(curves, vs)
		}
	}
	return curve.Aggregate(curves...)
}

// State returns the market lifecycle state.
func (m *Market) State() model.MarketState {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.state
}

// Cleared returns the cleared interval series ordered by start.
func (m *Market) Cleared() []model.ClearedInterval {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return append([]model.ClearedInterval(nil), m.snapshot...)
}

// LastResult returns the result of the most recent pass.
func (m *Market) LastResult() Result {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.last
}

// Advance moves the market state to the state of its earliest active
// interval at now.
func (m *Market) Advance(now time.Time) model.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.intervals) > 0 {
		first := m.intervals[0]
		if target := first.State(now, m.cleared[first.ID()]); target != model.StateInactive {
			m.transition(target, now)
		}
	}
	return m.State()
}

// transition must be called with mu held.
func (m *Market) transition(to model.MarketState, now time.Time) {
	m.snapMu.Lock()
	from := m.state
	if from == to {
		m.snapMu.Unlock()
		return
	}
	if !from.CanTransition(to) {
		m.snapMu.Unlock()
		m.log.Debugf("market %s: ignoring transition %s -> %s", m.cfg.Name, from, to)
		return
	}
	m.state = to
	m.snapMu.Unlock()
	marketState.WithLabelValues(m.cfg.Name).Set(float64(to))
	m.publish(events.StateEvent{Market: m.cfg.Name, From: from, To: to, Time: now})
}

// publish must be called with mu held.
func (m *Market) publish(ev eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func (m *Market) emit(ev eventbus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish(ev)
}

func (m *Market) currentSink() metrics.MetricsSink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}

// Refresh brings the active intervals up to date without balancing.
func (m *Market) Refresh(now time.Time) []model.TimeInterval {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh(now)
	return append([]model.TimeInterval(nil), m.intervals...)
}

// refresh must be called with mu held.
func (m *Market) refresh(now time.Time) {
	params := model.ClearingParams{
		Method:              m.cfg.Method,
		DefaultPrice:        m.cfg.SeedPrice(),
		DualityGapThreshold: m.cfg.DualityGapThreshold,
		DeliveryLead:        time.Duration(m.cfg.DeliveryLeadMinutes) * time.Minute,
	}
	active, added, pruned := m.schedule.Refresh(m.intervals, now, params)
	for _, ti := range pruned {
		id := ti.ID()
		for _, p := range m.participants {
			p.Ledger().PruneInterval(ti)
		}
		delete(m.prices, id)
		delete(m.cleared, id)
		delete(m.system, id)
		delete(m.rows, id)
		m.publish(events.IntervalEvent{Market: m.cfg.Name, Interval: id, Action: "pruned"})
	}
	for _, ti := range added {
		id := ti.ID()
		if _, ok := m.prices[id]; !ok {
			m.prices[id] = ti.Params.DefaultPrice
		}
		m.publish(events.IntervalEvent{Market: m.cfg.Name, Interval: id, Action: "added"})
	}
	m.intervals = active
	activeIntervals.WithLabelValues(m.cfg.Name).Set(float64(len(active)))
}

// storeSnapshot must be called with mu held.
func (m *Market) storeSnapshot(res Result, now time.Time) {
	rows := make([]model.ClearedInterval, 0, len(m.rows))
	for _, ti := range m.intervals {
		if r, ok := m.rows[ti.ID()]; ok {
			r.State = ti.State(now, m.cleared[ti.ID()]).String()
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Start.Before(rows[j].Start) })
	m.snapMu.Lock()
	m.snapshot = rows
	m.last = res
	m.snapMu.Unlock()
}
