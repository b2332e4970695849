package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/market"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/infra/metrics"
)

type source []*market.ConsensusMarket

func (s source) Markets() []*market.ConsensusMarket { return s }

func (s source) Market(name string) (*market.ConsensusMarket, bool) {
	for _, m := range s {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

var now = time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)

func clearedMarket(t *testing.T) *market.ConsensusMarket {
	t.Helper()
	m, err := market.New(market.Config{Name: "rt", HorizonIntervals: 2}, nil)
	require.NoError(t, err)
	fixed := func(vs ...curve.Vertex) func(model.TimeInterval) ([]curve.Vertex, error) {
		return func(model.TimeInterval) ([]curve.Vertex, error) { return vs, nil }
	}
	require.NoError(t, m.AddParticipant(market.NewEntity("supply", fixed(curve.Vertex{MarginalPrice: 0.03}, curve.Vertex{MarginalPrice: 0.08, Power: 100}))))
	require.NoError(t, m.AddParticipant(market.NewEntity("load", fixed(curve.Vertex{Power: -40}))))
	_, err = m.Clear(context.Background(), now)
	require.NoError(t, err)
	return market.NewConsensusMarket(m, nil)
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestHealthAndMarkets(t *testing.T) {
	s := New(Config{}, source{clearedMarket(t)}, WithGatherer(prometheus.NewRegistry()))

	var health map[string]any
	rec := get(t, s.Handler(), "/healthz", &health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var list struct {
		Markets []marketSummary `json:"markets"`
	}
	get(t, s.Handler(), "/api/markets", &list)
	require.Len(t, list.Markets, 1)
	assert.Equal(t, "rt", list.Markets[0].Name)
	assert.Equal(t, 2, list.Markets[0].Participants)
	assert.Equal(t, "interpolation", list.Markets[0].Method)
	assert.NotZero(t, list.Markets[0].Iterations)
}

func TestIntervals(t *testing.T) {
	s := New(Config{}, source{clearedMarket(t)})
	var body struct {
		Market    string                  `json:"market"`
		Intervals []model.ClearedInterval `json:"intervals"`
	}
	rec := get(t, s.Handler(), "/api/markets/rt/intervals", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body.Intervals, 2)
	assert.InDelta(t, 0.05, body.Intervals[1].MarginalPrice, 1e-9)
	assert.True(t, body.Intervals[1].Start.After(body.Intervals[0].Start))

	rec = get(t, s.Handler(), "/api/markets/missing/intervals", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "MARKET_NOT_FOUND")
}

func TestHistory(t *testing.T) {
	cm := clearedMarket(t)
	j, err := metrics.NewJournalSink(metrics.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.jsonl")})
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.RecordClearing(cm.Cleared()))
	require.NoError(t, j.RecordState(coremetrics.StateEvent{Market: "rt", To: "MarketLead", Time: now}))

	s := New(Config{}, source{cm}, WithHistory(j))
	var body struct {
		Entries []metrics.Entry `json:"entries"`
	}
	rec := get(t, s.Handler(), "/api/markets/rt/history?kind=clearing", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body.Entries, 2)

	rec = get(t, s.Handler(), "/api/markets/rt/history?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, New(Config{}, source{cm}).Handler(), "/api/markets/rt/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "api_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	s := New(Config{}, source{}, WithGatherer(reg))
	rec := get(t, s.Handler(), "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_test_total 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, source{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
