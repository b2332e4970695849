package market

import (
	"context"
	"strconv"
	"time"

	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/signal"
)

const inboxSize = 256

type exchangeKey struct {
	neighbor string
	interval string
}

// Outcome summarizes one negotiation.
type Outcome struct {
	// Result is the last pass that balanced at least one interval.
	Result   Result
	Rounds   int
	Settled  bool
	Sent     int
	Received int
}

// ConsensusMarket runs the market's balancing pass inside an outer exchange
// with neighboring nodes. A negotiation settles once a round neither sends a
// new signal nor receives one that differs materially from the previous one.
type ConsensusMarket struct {
	*Market
	transport signal.Transport
	inbox     chan signal.Envelope
	pending   []signal.Envelope
	lastSent  map[exchangeKey][]model.TransactiveRecord
	lastRecv  map[exchangeKey][]model.TransactiveRecord
	barrier   *Barrier
}

// NewConsensusMarket wraps m. A nil transport is allowed for markets without
// transactive neighbors.
func NewConsensusMarket(m *Market, tr signal.Transport) *ConsensusMarket {
	return &ConsensusMarket{
		Market:    m,
		transport: tr,
		inbox:     make(chan signal.Envelope, inboxSize),
		lastSent:  make(map[exchangeKey][]model.TransactiveRecord),
		lastRecv:  make(map[exchangeKey][]model.TransactiveRecord),
		barrier:   NewBarrier(),
	}
}

// Barrier exposes the per-interval completion tracker.
func (c *ConsensusMarket) Barrier() *Barrier { return c.barrier }

// Deliver queues an inbound envelope for the next round. It never blocks and
// returns false when the inbox is full.
func (c *ConsensusMarket) Deliver(env signal.Envelope) bool {
	select {
	case c.inbox <- env:
		return true
	default:
		return false
	}
}

// Negotiate alternates balancing passes and signal exchanges until the
// exchange settles or the round budget is spent. A round settles only when
// its local pass balanced without being forced. Only a done ctx returns an
// error; an unsettled outcome is retried by the caller.
func (c *ConsensusMarket) Negotiate(ctx context.Context, now time.Time) (Outcome, error) {
	cfg := c.Config()
	var out Outcome
	c.Refresh(now)
	for round := 1; round <= cfg.MaxConsensusRounds; round++ {
		out.Rounds = round
		applied, changed := c.drain()
		out.Received += applied

		res, err := c.Clear(ctx, now)
		if err != nil {
			out.Result = res
			return out, err
		}
		if len(res.Intervals) > 0 || out.Rounds == 1 {
			out.Result = res
		}
		balanced := res.Converged && !res.Forced
		cps := c.Counterparties()
		sent, err := c.offer(ctx, now, cps)
		out.Sent += len(sent)
		if err != nil {
			return out, err
		}
		pending, _ := c.negotiable(now, cps)
		c.complete(pending, cps, sent, changed)
		quiet := len(sent) == 0 && len(changed) == 0 && (!cfg.SequentialOffers || c.allComplete(pending))
		if quiet && balanced {
			out.Settled = true
			break
		}
		if len(cps) == 0 {
			break
		}
		if len(sent) > 0 || !balanced {
			if err := c.await(ctx, cfg.RoundTimeout()); err != nil {
				return out, err
			}
		}
	}
	c.retain()
	consensusRounds.WithLabelValues(c.Name(), strconv.FormatBool(out.Settled)).Observe(float64(out.Rounds))
	if r, ok := c.currentSink().(metrics.ConsensusRecorder); ok {
		ev := metrics.ConsensusEvent{
			Market: c.Name(), Rounds: out.Rounds, Settled: out.Settled,
			Sent: out.Sent, Received: out.Received, Time: now,
		}
		if err := r.RecordConsensus(ev); err != nil {
			c.log.Errorf("market %s: record consensus: %v", c.Name(), err)
		}
	}
	if !out.Settled {
		c.log.Warnf("market %s: neighbor exchange not settled after %d rounds", c.Name(), out.Rounds)
	}
	return out, nil
}

// drain applies every queued envelope and returns how many were applied and
// the intervals whose received signal changed.
func (c *ConsensusMarket) drain() (int, map[string]bool) {
	envs := c.pending
	c.pending = nil
	for more := true; more; {
		select {
		case env := <-c.inbox:
			envs = append(envs, env)
		default:
			more = false
		}
	}
	changed := make(map[string]bool)
	applied := 0
	for _, env := range envs {
		ok, diff := c.apply(env)
		if ok {
			applied++
		}
		if diff {
			changed[env.IntervalID] = true
		}
	}
	return applied, changed
}

func (c *ConsensusMarket) apply(env signal.Envelope) (applied, changed bool) {
	ti, ok := c.Interval(env.IntervalID)
	if !ok {
		c.log.Debugf("market %s: dropping signal from %s for inactive interval %s", c.Name(), env.From, env.IntervalID)
		return false, false
	}
	var cp Counterparty
	for _, p := range c.Counterparties() {
		if p.Name() == env.From {
			cp = p
			break
		}
	}
	if cp == nil {
		c.log.Warnf("market %s: signal from unknown neighbor %s", c.Name(), env.From)
		return false, false
	}
	recs := env.Received()
	key := exchangeKey{neighbor: env.From, interval: env.IntervalID}
	prev, seen := c.lastRecv[key]
	changed = !seen || signal.AreDifferent(prev, recs, c.Config().SignalThreshold)
	if err := cp.ApplySignal(ti, recs); err != nil {
		c.log.Warnf("market %s: apply signal from %s for %s: %v", c.Name(), env.From, env.IntervalID, err)
		return false, false
	}
	c.lastRecv[key] = recs
	signalsReceived.WithLabelValues(c.Name(), env.From).Inc()
	c.emit(events.SignalEvent{
		Market: c.Name(), Neighbor: env.From, Interval: env.IntervalID,
		Direction: model.Received, Records: len(recs), Changed: changed,
	})
	c.recordSignal(env.From, env.IntervalID, model.Received, recs)
	return true, changed
}

// negotiable returns the intervals still exchanged with neighbors: the open
// ones, plus those cleared into delivery that some neighbor has not been
// offered yet. open marks the former.
func (c *ConsensusMarket) negotiable(now time.Time, cps []Counterparty) (out []model.TimeInterval, open map[string]bool) {
	open = make(map[string]bool)
	for _, ti := range c.OpenIntervals(now) {
		open[ti.ID()] = true
	}
	for _, ti := range c.Intervals() {
		id := ti.ID()
		if open[id] || (ti.State(now, true) == model.StateDelivery && !c.offeredAll(id, cps)) {
			out = append(out, ti)
		}
	}
	return out, open
}

func (c *ConsensusMarket) offered(neighbor, interval string) bool {
	_, ok := c.lastSent[exchangeKey{neighbor: neighbor, interval: interval}]
	return ok
}

func (c *ConsensusMarket) offeredAll(interval string, cps []Counterparty) bool {
	for _, cp := range cps {
		if !c.offered(cp.Name(), interval) {
			return false
		}
	}
	return true
}

// offer sends every transactive neighbor the residual curve of each
// negotiable interval when it differs from the last one sent. An interval in
// delivery is sent at most once per neighbor. With sequential offers an
// interval is only offered once the previous one has completed.
func (c *ConsensusMarket) offer(ctx context.Context, now time.Time, cps []Counterparty) (map[string]bool, error) {
	sent := make(map[string]bool)
	if len(cps) == 0 {
		return sent, nil
	}
	if c.transport == nil {
		c.log.Errorf("market %s: transactive neighbors configured without transport", c.Name())
		return sent, nil
	}
	cfg := c.Config()
	pending, open := c.negotiable(now, cps)
	for i, ti := range pending {
		if cfg.SequentialOffers && i > 0 && !c.barrier.Completed(pending[i-1].ID()) {
			break
		}
		id := ti.ID()
		for _, cp := range cps {
			if !open[id] && c.offered(cp.Name(), id) {
				continue
			}
			vs := c.Residual(ti, cp.Name())
			if len(vs) == 0 {
				continue
			}
			recs := signal.Encode(vs, signal.Meta{
				Market: c.Name(), IntervalID: id, NeighborID: cp.Name(),
				Direction: model.Sent, Timestamp: now,
			})
			key := exchangeKey{neighbor: cp.Name(), interval: id}
			if prev, ok := c.lastSent[key]; ok && !signal.AreDifferent(prev, recs, cfg.SignalThreshold) {
				continue
			}
			if err := c.transport.SendSignal(ctx, cp.Name(), id, recs); err != nil {
				if ctx.Err() != nil {
					return sent, ctx.Err()
				}
				c.log.Warnf("market %s: send signal to %s for %s: %v", c.Name(), cp.Name(), id, err)
				continue
			}
			c.lastSent[key] = recs
			sent[id] = true
			signalsSent.WithLabelValues(c.Name(), cp.Name()).Inc()
			c.emit(events.SignalEvent{
				Market: c.Name(), Neighbor: cp.Name(), Interval: id,
				Direction: model.Sent, Records: len(recs), Changed: true,
			})
			c.recordSignal(cp.Name(), id, model.Sent, recs)
		}
	}
	return sent, nil
}

// complete marks quiet intervals that have been offered to every neighbor.
func (c *ConsensusMarket) complete(pending []model.TimeInterval, cps []Counterparty, sent, changed map[string]bool) {
	for _, ti := range pending {
		id := ti.ID()
		if sent[id] || changed[id] {
			continue
		}
		if c.offeredAll(id, cps) {
			c.barrier.Complete(id)
		}
	}
}

func (c *ConsensusMarket) allComplete(pending []model.TimeInterval) bool {
	for _, ti := range pending {
		if !c.barrier.Completed(ti.ID()) {
			return false
		}
	}
	return true
}

// await waits up to timeout for one inbound envelope.
func (c *ConsensusMarket) await(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-c.inbox:
		c.pending = append(c.pending, env)
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retain forgets exchange state of intervals no longer active.
func (c *ConsensusMarket) retain() {
	keep := make(map[string]bool)
	for _, ti := range c.Intervals() {
		keep[ti.ID()] = true
	}
	for k := range c.lastSent {
		if !keep[k.interval] {
			delete(c.lastSent, k)
		}
	}
	for k := range c.lastRecv {
		if !keep[k.interval] {
			delete(c.lastRecv, k)
		}
	}
	c.barrier.Retain(keep)
}

func (c *ConsensusMarket) recordSignal(neighbor, interval string, dir model.Direction, recs []model.TransactiveRecord) {
	r, ok := c.currentSink().(metrics.SignalRecorder)
	if !ok || len(recs) == 0 {
		return
	}
	ev := metrics.SignalEvent{
		Market: c.Name(), Neighbor: neighbor, Interval: interval,
		Direction: dir, Records: recs, Time: recs[0].Timestamp,
	}
	if err := r.RecordSignal(ev); err != nil {
		c.log.Errorf("market %s: record signal: %v", c.Name(), err)
	}
}
