package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/market"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/neighbor"
	"github.com/kilianp07/transactive/core/node"
	"github.com/kilianp07/transactive/infra/metrics"
)

var t0 = time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)

func feederConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Node:    node.Config{Name: "feeder"},
		Markets: []market.Config{{Name: "da", HorizonIntervals: 2, Method: "interpolation"}},
		Assets:  []asset.Config{{Name: "building", Power: -40}},
		Neighbors: []neighbor.Config{{
			Name: "grid", Kind: "static",
			Vertices: []curve.Vertex{{MarginalPrice: 0.03, Power: 0}, {MarginalPrice: 0.08, Power: 100}},
		}},
		Metrics: coremetrics.Config{Sinks: []factory.ModuleConfig{{
			Type: "journal",
			Conf: map[string]any{"path": filepath.Join(t.TempDir(), "journal.jsonl")},
		}}},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&config.Config{Node: node.Config{Name: "feeder"}}, Offline())
	assert.Error(t, err)
}

func TestClearOffline(t *testing.T) {
	s, err := New(feederConfig(t), Offline())
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	results, err := s.Clear(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "da", res.Market)
	assert.True(t, res.Converged)
	assert.False(t, res.Forced)
	require.Len(t, res.Intervals, 2)
	for _, row := range res.Intervals {
		assert.InDelta(t, 0.05, row.MarginalPrice, 1e-9)
		assert.InDelta(t, 0, row.NetPower, 1e-9)
	}

	h := historyOf(s.sink)
	require.NotNil(t, h)
	entries, err := h.Query(context.Background(), metrics.JournalQuery{Market: "da", Kind: metrics.KindClearing})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := feederConfig(t)
	cfg.Metrics.Sinks = nil
	s, err := New(cfg, Offline())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	cm, ok := s.Node.Market("da")
	require.True(t, ok)
	assert.NotEmpty(t, cm.Cleared())
}

func TestHistoryOfMultiSink(t *testing.T) {
	j, err := metrics.NewJournalSink(metrics.JournalConfig{Path: filepath.Join(t.TempDir(), "j.jsonl")})
	require.NoError(t, err)
	defer j.Close()
	multi := coremetrics.NewMultiSink(coremetrics.NopSink{}, j)
	assert.Same(t, j, historyOf(multi))
	assert.Len(t, closersOf(multi), 1)
	assert.Nil(t, historyOf(coremetrics.NopSink{}))
}
