// Package node runs the markets of one transactive node. A single goroutine
// owns every market and runs a cycle on each interval boundary, on request
// and on retry; a second goroutine feeds inbound neighbor signals to the
// markets.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/monitoring"
	"github.com/kilianp07/transactive/core/signal"
)

// Meter is implemented by participants that sample a device before a cycle.
type Meter interface {
	Meter(ctx context.Context) error
}

// CycleResult summarizes one cycle over every market.
type CycleResult struct {
	Time     time.Time
	Outcomes map[string]market.Outcome
	// Settled is false when any market was forced or left unsettled.
	Settled bool
}

// Node drives a set of consensus markets.
type Node struct {
	cfg       Config
	log       logger.Logger
	monitor   monitoring.Monitor
	transport signal.Transport
	now       func() time.Time

	markets  []*market.ConsensusMarket
	byName   map[string]*market.ConsensusMarket
	requests chan struct{}
	retry    backoff.BackOff
	actuated map[actuation]float64
}

type actuation struct {
	market, participant string
	start               time.Time
}

// Option configures a Node.
type Option func(*Node)

// WithTransport sets the transport carrying neighbor signals.
func WithTransport(tr signal.Transport) Option { return func(n *Node) { n.transport = tr } }

// WithMonitor sets the monitor receiving recovered panics.
func WithMonitor(m monitoring.Monitor) Option { return func(n *Node) { n.monitor = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(n *Node) { n.now = now } }

// New creates a node. Markets are added with AddMarket before Run.
func New(cfg Config, log logger.Logger, opts ...Option) (*Node, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:      cfg,
		log:      logger.OrNop(log),
		monitor:  monitoring.NopMonitor{},
		now:      time.Now,
		byName:   make(map[string]*market.ConsensusMarket),
		requests: make(chan struct{}, 1),
		actuated: make(map[actuation]float64),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.retry = backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryInterval()), uint64(cfg.MaxRetries))
	return n, nil
}

// AddMarket registers a market with the node.
func (n *Node) AddMarket(m *market.Market) (*market.ConsensusMarket, error) {
	if _, ok := n.byName[m.Name()]; ok {
		return nil, fmt.Errorf("node %s: market %s already added", n.cfg.Name, m.Name())
	}
	cm := market.NewConsensusMarket(m, n.transport)
	n.markets = append(n.markets, cm)
	n.byName[m.Name()] = cm
	return cm, nil
}

// Markets returns the node's markets in registration order.
func (n *Node) Markets() []*market.ConsensusMarket {
	return append([]*market.ConsensusMarket(nil), n.markets...)
}

// Market looks up a market by name.
func (n *Node) Market(name string) (*market.ConsensusMarket, bool) {
	cm, ok := n.byName[name]
	return cm, ok
}

// Request asks for a cycle as soon as possible. Requests made while one is
// pending are coalesced.
func (n *Node) Request() {
	select {
	case n.requests <- struct{}{}:
	default:
	}
}

// Run runs cycles until ctx is done. The first cycle starts immediately.
func (n *Node) Run(ctx context.Context) error {
	if len(n.markets) == 0 {
		return fmt.Errorf("node %s: no market configured", n.cfg.Name)
	}
	g, ctx := errgroup.WithContext(ctx)
	if n.transport != nil {
		g.Go(func() error { return n.receive(ctx) })
	}
	g.Go(func() error { return n.loop(ctx) })
	return g.Wait()
}

func (n *Node) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	onBoundary := false
	for {
		fired := false
		select {
		case <-ctx.Done():
			return nil
		case <-n.requests:
		case <-timer.C:
			fired = true
		}
		res, err := n.Cycle(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		var wait time.Duration
		wait, onBoundary = n.nextWait(n.now(), res.Settled && err == nil, fired && onBoundary)
		timer.Stop()
		select {
		case <-timer.C:
		default:
		}
		timer.Reset(wait)
	}
}

// nextWait returns the delay before the next cycle and whether it ends on an
// interval boundary. A settled cycle or a cycle started on a boundary renews
// the retry budget.
func (n *Node) nextWait(now time.Time, settled, onBoundary bool) (time.Duration, bool) {
	wait := n.untilBoundary(now)
	if settled || onBoundary {
		n.retry.Reset()
	}
	if settled {
		return wait, true
	}
	if d := n.retry.NextBackOff(); d != backoff.Stop && d < wait {
		n.log.Infof("node %s: retrying cycle in %s", n.cfg.Name, d)
		return d, false
	}
	return wait, true
}

// untilBoundary returns the time left until the next interval boundary of
// any market.
func (n *Node) untilBoundary(now time.Time) time.Duration {
	wait := time.Duration(-1)
	for _, cm := range n.markets {
		d := cm.Config().Interval()
		next := now.Truncate(d).Add(d).Sub(now)
		if wait < 0 || next < wait {
			wait = next
		}
	}
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

// receive routes inbound envelopes to their market and requests a cycle.
func (n *Node) receive(ctx context.Context) error {
	for {
		env, err := n.transport.ReceiveSignal(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, signal.ErrTransportClosed) {
				return nil
			}
			n.log.Warnf("node %s: receive signal: %v", n.cfg.Name, err)
			continue
		}
		cm, ok := n.byName[env.Market]
		if !ok {
			n.log.Warnf("node %s: signal from %s for unknown market %q", n.cfg.Name, env.From, env.Market)
			continue
		}
		if !cm.Deliver(env) {
			n.log.Warnf("node %s: market %s inbox full, dropping signal from %s", n.cfg.Name, env.Market, env.From)
			continue
		}
		n.Request()
	}
}

// Cycle meters assets, negotiates every market, then actuates the intervals
// in delivery. A panic inside a market is recovered, reported and counts as
// an unsettled cycle.
func (n *Node) Cycle(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	now := n.now()
	res := CycleResult{Time: now, Outcomes: make(map[string]market.Outcome, len(n.markets)), Settled: true}
	var errs []error
	for _, cm := range n.markets {
		err := monitoring.Guard(n.monitor, map[string]string{"node": n.cfg.Name, "market": cm.Name()}, func() error {
			n.meter(ctx, cm)
			out, err := cm.Negotiate(ctx, now)
			if err != nil {
				return err
			}
			res.Outcomes[cm.Name()] = out
			if !out.Settled || out.Result.Forced {
				res.Settled = false
			}
			cm.Advance(now)
			n.deliver(ctx, cm, now)
			return nil
		})
		if err != nil {
			res.Settled = false
			var pe monitoring.PanicError
			if errors.As(err, &pe) {
				panics.WithLabelValues(n.cfg.Name).Inc()
				n.log.Errorf("node %s: market %s: %v", n.cfg.Name, cm.Name(), err)
			}
			errs = append(errs, fmt.Errorf("market %s: %w", cm.Name(), err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	outcome := "settled"
	if !res.Settled {
		outcome = "unsettled"
	}
	cycles.WithLabelValues(n.cfg.Name, outcome).Inc()
	cycleDuration.WithLabelValues(n.cfg.Name).Observe(time.Since(started).Seconds())
	return res, errors.Join(errs...)
}

func (n *Node) meter(ctx context.Context, cm *market.ConsensusMarket) {
	for _, p := range cm.Participants() {
		if m, ok := p.(Meter); ok {
			if err := m.Meter(ctx); err != nil {
				n.log.Warnf("node %s: meter %s: %v", n.cfg.Name, p.Name(), err)
			}
		}
	}
}

// deliver actuates devices for the interval in delivery and lets suppliers
// observe the delivered power. A setpoint is only written when it changes.
func (n *Node) deliver(ctx context.Context, cm *market.ConsensusMarket, now time.Time) {
	for _, ti := range cm.Intervals() {
		if !inDelivery(ti, now) {
			continue
		}
		for _, p := range cm.Participants() {
			power := p.Ledger().Power(ti)
			if o, ok := p.(market.DeliveryObserver); ok {
				o.ObserveDelivery(ti, power)
			}
			a, ok := p.(market.Actuator)
			if !ok {
				continue
			}
			key := actuation{market: cm.Name(), participant: p.Name(), start: ti.Start}
			if last, done := n.actuated[key]; done && last == power {
				continue
			}
			if err := a.Actuate(ctx, ti, power); err != nil {
				n.log.Errorf("node %s: actuate %s: %v", n.cfg.Name, p.Name(), err)
				n.monitor.CaptureException(err, map[string]string{"node": n.cfg.Name, "participant": p.Name()})
				continue
			}
			n.actuated[key] = power
		}
		n.prune(cm, ti)
	}
}

// prune forgets setpoints of intervals before current.
func (n *Node) prune(cm *market.ConsensusMarket, current model.TimeInterval) {
	for key := range n.actuated {
		if key.market == cm.Name() && key.start.Before(current.Start) {
			delete(n.actuated, key)
		}
	}
}

func inDelivery(ti model.TimeInterval, now time.Time) bool {
	return !now.Before(ti.Start) && now.Before(ti.End())
}
