package metrics

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
)

func TestJournalSinkAppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "market.jsonl")
	j, err := NewJournalSink(JournalConfig{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer j.Close()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := []model.ClearedInterval{
		{Market: "rt", IntervalID: "a", Start: start, MarginalPrice: 0.05, Converged: true},
		{Market: "rt", IntervalID: "b", Start: start.Add(time.Hour), MarginalPrice: 0.06, Converged: true},
	}
	require.NoError(t, j.RecordClearing(rows))
	require.NoError(t, j.RecordClearing([]model.ClearedInterval{{Market: "da", IntervalID: "c", Start: start}}))
	require.NoError(t, j.RecordConvergence(coremetrics.ConvergenceEvent{
		Market: "rt", Iterations: 1, DualityGap: math.Inf(1), Forced: true, Time: start.Add(time.Minute),
	}))
	require.NoError(t, j.RecordSignal(coremetrics.SignalEvent{
		Market: "rt", Neighbor: "substation", Interval: "a", Direction: model.Received, Time: start,
		Records: []model.TransactiveRecord{{MarginalPrice: 0.05, Power: 10}},
	}))
	require.NoError(t, j.RecordState(coremetrics.StateEvent{Market: "rt", From: "Negotiation", To: "MarketLead", Time: start}))

	all, err := j.Query(context.Background(), JournalQuery{Market: "rt"})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	cleared, err := j.Query(context.Background(), JournalQuery{Market: "rt", Kind: KindClearing, Start: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, cleared, 1)
	var row model.ClearedInterval
	require.NoError(t, json.Unmarshal(cleared[0].Data, &row))
	assert.Equal(t, "b", row.IntervalID)
	assert.Equal(t, 0.06, row.MarginalPrice)

	passes, err := j.Query(context.Background(), JournalQuery{Kind: KindConvergence})
	require.NoError(t, err)
	require.Len(t, passes, 1)
	var pass passRecord
	require.NoError(t, json.Unmarshal(passes[0].Data, &pass))
	assert.Nil(t, pass.DualityGap)
	assert.True(t, pass.Forced)
}

func TestJournalQueryCanceled(t *testing.T) {
	j, err := NewJournalSink(JournalConfig{Path: filepath.Join(t.TempDir(), "m.jsonl")})
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.RecordState(coremetrics.StateEvent{Market: "rt"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = j.Query(ctx, JournalQuery{})
	assert.ErrorIs(t, err, context.Canceled)
}
