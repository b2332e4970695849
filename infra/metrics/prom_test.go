package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/core/events"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/internal/eventbus"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	rows := []model.ClearedInterval{
		{Market: "rt", MarginalPrice: 0.057, NetPower: 0.5, Converged: true},
		{Market: "rt", MarginalPrice: 0.06, Converged: false},
	}
	require.NoError(t, s.RecordClearing(rows))
	require.NoError(t, s.RecordSignal(coremetrics.SignalEvent{
		Market: "rt", Neighbor: "substation", Direction: model.Sent,
		Records: make([]model.TransactiveRecord, 3),
	}))
	require.NoError(t, s.RecordConsensus(coremetrics.ConsensusEvent{Market: "rt", Settled: true}))
	require.NoError(t, s.RecordConvergence(coremetrics.ConvergenceEvent{Market: "rt", Duration: time.Millisecond}))
	require.NoError(t, s.RecordState(coremetrics.StateEvent{Market: "rt", To: "Delivery"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.cleared.WithLabelValues("rt", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.cleared.WithLabelValues("rt", "false")))
	assert.Equal(t, 0.057, testutil.ToFloat64(s.price.WithLabelValues("rt")))
	assert.Equal(t, 0.5, testutil.ToFloat64(s.netPower.WithLabelValues("rt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.records.WithLabelValues("rt", "substation", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.consensus.WithLabelValues("rt", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.transitions.WithLabelValues("rt", "Delivery")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.passSeconds))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, a.RecordConsensus(coremetrics.ConsensusEvent{Market: "rt"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.consensus.WithLabelValues("rt", "false")))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, s.RecordClearing([]model.ClearedInterval{{Market: "rt", MarginalPrice: 0.05}}))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `cleared_marginal_price{market="rt"} 0.05`), string(body))
}

func TestSinkRegistry(t *testing.T) {
	types := coremetrics.SinkTypes()
	for _, name := range []string{"nop", "prometheus", "influx", "journal"} {
		assert.Contains(t, types, name)
	}
}

type stateSink struct {
	coremetrics.NopSink
	got chan coremetrics.StateEvent
}

func (s stateSink) RecordState(ev coremetrics.StateEvent) error {
	s.got <- ev
	return nil
}

func TestEventCollectorRecordsTransitions(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sink := stateSink{got: make(chan coremetrics.StateEvent, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartEventCollector(ctx, bus, sink, nil)

	// the collector subscribes before returning
	bus.Publish(events.IntervalEvent{Market: "rt", Action: "added"})
	bus.Publish(events.StateEvent{Market: "rt", From: model.StateNegotiation, To: model.StateMarketLead})
	select {
	case ev := <-sink.got:
		assert.Equal(t, "rt", ev.Market)
		assert.Equal(t, model.StateMarketLead.String(), ev.To)
	case <-time.After(time.Second):
		t.Fatal("state not recorded")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestEventCollectorWithoutStateRecorder(t *testing.T) {
	done := StartEventCollector(context.Background(), eventbus.New(), struct{ coremetrics.MetricsSink }{coremetrics.NopSink{}}, nil)
	select {
	case <-done:
	default:
		t.Fatal("expected closed channel")
	}
}
