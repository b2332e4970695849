package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
)

// Result summarizes one balancing pass.
type Result struct {
	Market     string
	Time       time.Time
	Iterations int
	DualityGap float64
	// Gaps holds the duality gap of every iteration.
	Gaps      []float64
	Converged bool
	// Forced is set when the iteration cap or a stalled price update ended
	// the pass before the gap closed. Converged is then true for liveness
	// only and the intervals stay open for the next pass.
	Forced bool
	// Skipped joins the per-interval price update failures of the last
	// iteration.
	Skipped   error
	Intervals []model.ClearedInterval
}

// Err returns ErrConvergenceNotReached for forced passes.
func (r Result) Err() error {
	if r.Forced {
		return fmt.Errorf("market %s after %d iterations (gap %.4g): %w", r.Market, r.Iterations, r.DualityGap, ErrConvergenceNotReached)
	}
	return nil
}

// DualityGap returns (production - dual) / |production|. A zero production
// cost yields +Inf so that the market never reports convergence on it.
func DualityGap(production, dual float64) float64 {
	if production == 0 {
		return math.Inf(1)
	}
	return (production - dual) / math.Abs(production)
}

type intervalTotals struct {
	generation float64
	demand     float64
	curves     [][]curve.Vertex
}

func (it *intervalTotals) net() float64 { return it.generation + it.demand }

type passTotals struct {
	production float64
	dual       float64
	intervals  map[string]*intervalTotals
}

// Clear runs one balancing pass at now: it refreshes the active intervals,
// then schedules every participant and updates prices until the duality gap
// is within threshold or the iteration cap forces convergence. It only
// returns an error when ctx is done.
func (m *Market) Clear(ctx context.Context, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	started := time.Now()

	m.transition(model.StateNegotiation, now)
	m.refresh(now)
	open := m.openIntervals(now)
	res := Result{Market: m.cfg.Name, Time: now}
	if len(open) == 0 {
		res.Converged = true
		m.storeSnapshot(res, now)
		return res, nil
	}
	threshold := m.threshold(open)

	var totals passTotals
	warned := make(map[string]bool)
	for k := 1; ; k++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		totals = m.balance(open, warned)
		res.Iterations = k
		res.DualityGap = DualityGap(totals.production, totals.dual)
		res.Gaps = append(res.Gaps, res.DualityGap)
		m.log.Debugw("balancing iteration", map[string]any{
			"market": m.cfg.Name, "k": k, "gap": res.DualityGap,
			"production": totals.production, "dual": totals.dual,
		})
		if math.Abs(res.DualityGap) <= threshold {
			res.Converged = true
			break
		}
		if k >= m.cfg.MaxIterations {
			res.Converged, res.Forced = true, true
			break
		}
		changed, err := m.updatePrices(open, k, totals)
		res.Skipped = err
		if changed == 0 {
			res.Converged, res.Forced = true, true
			break
		}
	}
	if res.Skipped != nil {
		m.log.Warnf("market %s: price update skipped: %v", m.cfg.Name, res.Skipped)
	}
	if res.Forced {
		m.log.Warnf("market %s: %v", m.cfg.Name, res.Err())
		balancingForced.WithLabelValues(m.cfg.Name).Inc()
	}
	m.finish(open, totals, &res, now)
	balancingIterations.WithLabelValues(m.cfg.Name).Observe(float64(res.Iterations))
	if !math.IsInf(res.DualityGap, 0) {
		dualityGap.WithLabelValues(m.cfg.Name).Set(res.DualityGap)
	}
	m.record(res, time.Since(started))
	m.log.Infof("market %s cleared %d intervals in %d iterations (gap %.4g, forced %v)",
		m.cfg.Name, len(open), res.Iterations, res.DualityGap, res.Forced)
	return res, nil
}

// threshold returns the strictest gap threshold captured by the open intervals.
func (m *Market) threshold(open []model.TimeInterval) float64 {
	th := math.Inf(1)
	for _, ti := range open {
		if t := ti.Params.DualityGapThreshold; t > 0 && t < th {
			th = t
		}
	}
	if math.IsInf(th, 1) {
		return m.cfg.DualityGapThreshold
	}
	return th
}

// balance schedules every participant on every open interval at the current
// prices and sums production and dual costs. warned holds the participant and
// interval pairs already reported during the pass.
func (m *Market) balance(open []model.TimeInterval, warned map[string]bool) passTotals {
	t := passTotals{intervals: make(map[string]*intervalTotals, len(open))}
	for _, ti := range open {
		id := ti.ID()
		price := m.prices[id]
		it := &intervalTotals{curves: make([][]curve.Vertex, len(m.participants))}
		fallback := make([]bool, len(m.participants))
		for i, p := range m.participants {
			vs, err := p.Vertices(ti)
			if err != nil {
				if key := p.Name() + "/" + id; !warned[key] {
					warned[key] = true
					m.log.Warnf("market %s: %s has no vertices for %s, scheduling fallback %.3f: %v",
						m.cfg.Name, p.Name(), id, m.cfg.FallbackPower, err)
				}
				vs = []curve.Vertex{{MarginalPrice: price, Power: m.cfg.FallbackPower}}
				fallback[i] = true
			}
			it.curves[i] = vs
		}
		fill := curve.Fill(curve.AggregateRange(price, it.curves...))
		for i, p := range m.participants {
			var power float64
			if fallback[i] {
				power = m.cfg.FallbackPower
				p.Ledger().Commit(ti, it.curves[i], power)
			} else {
				var err error
				power, err = p.Schedule(ti, price, fill)
				if err != nil {
					if key := p.Name() + "/" + id; !warned[key] {
						warned[key] = true
						m.log.Warnf("market %s: schedule %s for %s: %v", m.cfg.Name, p.Name(), id, err)
					}
					power = m.cfg.FallbackPower
					it.curves[i] = []curve.Vertex{{MarginalPrice: price, Power: power}}
					p.Ledger().Commit(ti, it.curves[i], power)
				}
			}
			if power > 0 {
				it.generation += power
			} else {
				it.demand += power
			}
			if err := p.UpdateCosts(ti, price); err != nil {
				m.log.Warnf("market %s: costs of %s for %s: %v", m.cfg.Name, p.Name(), id, err)
				continue
			}
			production, _ := p.Ledger().Scalar(model.ProductionCost, ti)
			dual, _ := p.Ledger().Scalar(model.DualCost, ti)
			t.production += production
			t.dual += dual
		}
		t.intervals[id] = it
	}
	return t
}

// updatePrices revises the price of every open interval by its configured
// rule and returns how many prices moved.
func (m *Market) updatePrices(open []model.TimeInterval, k int, t passTotals) (int, error) {
	var errs []error
	changed := 0
	for _, ti := range open {
		id := ti.ID()
		it := t.intervals[id]
		old := m.prices[id]
		var price float64
		switch Method(ti.Params.Method) {
		case MethodInterpolation:
			p, err := curve.ClearingPrice(curve.Aggregate(it.curves...))
			if err != nil {
				errs = append(errs, fmt.Errorf("interval %s: %w", id, err))
				continue
			}
			price = p
		default:
			span := it.generation - it.demand
			if span <= curve.Epsilon {
				errs = append(errs, fmt.Errorf("interval %s: no scheduled power: %w", id, ErrDegenerateCurve))
				continue
			}
			price = old - m.cfg.Step(k)*it.net()/span
		}
		if math.Abs(price-old) > curve.Epsilon {
			changed++
		}
		m.prices[id] = price
	}
	return changed, errors.Join(errs...)
}

// finish caches the system curves and cleared rows of a pass.
func (m *Market) finish(open []model.TimeInterval, t passTotals, res *Result, now time.Time) {
	for _, ti := range open {
		id := ti.ID()
		it := t.intervals[id]
		if it == nil {
			continue
		}
		m.system[id] = curve.Aggregate(it.curves...)
		m.cleared[id] = res.Converged && !res.Forced && m.heardAll(ti)
		row := model.ClearedInterval{
			Market:        m.cfg.Name,
			IntervalID:    id,
			Start:         ti.Start,
			End:           ti.End(),
			MarginalPrice: m.prices[id],
			NetPower:      it.net(),
			Generation:    it.generation,
			Demand:        it.demand,
			Converged:     m.cleared[id],
			State:         ti.State(now, m.cleared[id]).String(),
		}
		m.rows[id] = row
		res.Intervals = append(res.Intervals, row)
		clearingPrice.WithLabelValues(m.cfg.Name).Set(row.MarginalPrice)
	}
	m.transition(model.StateMarketLead, now)
	m.storeSnapshot(*res, now)
}

// heardAll reports whether every transactive counterparty has sent a signal
// for ti. Until then the interval stays in negotiation even when the local
// pass balances on fallback curves.
func (m *Market) heardAll(ti model.TimeInterval) bool {
	for _, p := range m.participants {
		if cp, ok := p.(Counterparty); ok && cp.Transactive() && !cp.Heard(ti) {
			return false
		}
	}
	return true
}

// record forwards a finished pass to the sink and the bus.
func (m *Market) record(res Result, took time.Duration) {
	if err := m.sink.RecordClearing(res.Intervals); err != nil {
		m.log.Errorf("market %s: record clearing: %v", m.cfg.Name, err)
	}
	if cr, ok := m.sink.(metrics.ConvergenceRecorder); ok {
		ev := metrics.ConvergenceEvent{
			Market: res.Market, Iterations: res.Iterations, DualityGap: res.DualityGap,
			Converged: res.Converged, Forced: res.Forced, Duration: took, Time: res.Time,
		}
		if err := cr.RecordConvergence(ev); err != nil {
			m.log.Errorf("market %s: record convergence: %v", m.cfg.Name, err)
		}
	}
	m.publish(events.ClearingEvent{
		Market: res.Market, Iterations: res.Iterations, DualityGap: res.DualityGap,
		Converged: res.Converged, Forced: res.Forced, Intervals: res.Intervals, Time: res.Time,
	})
}
