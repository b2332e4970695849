package scenarios

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/transactive/infra/metrics"
)

const defaultTolerance = 1e-6

func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	m, err := sc.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m.SetSink(sink)

	cleared := 0
	for i, step := range sc.Clears {
		at := sc.Start.Add(time.Duration(step.OffsetMinutes) * time.Minute)
		res, err := m.Clear(context.Background(), at)
		if err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
		if res.Forced != step.Expected.Forced {
			t.Errorf("clear %d: forced %v, expected %v (gaps %v)", i, res.Forced, step.Expected.Forced, res.Gaps)
		}
		if len(res.Intervals) != len(step.Expected.Prices) {
			t.Fatalf("clear %d: %d intervals, expected %d", i, len(res.Intervals), len(step.Expected.Prices))
		}
		tol := step.Expected.Tolerance
		if tol == 0 {
			tol = defaultTolerance
		}
		for j, want := range step.Expected.Prices {
			row := res.Intervals[j]
			if math.Abs(row.MarginalPrice-want) > tol {
				t.Errorf("clear %d interval %s: price %.6f, expected %.6f", i, row.IntervalID, row.MarginalPrice, want)
			}
			if !res.Forced && math.Abs(row.NetPower) > tol {
				t.Errorf("clear %d interval %s: net power %.6f left unbalanced", i, row.IntervalID, row.NetPower)
			}
		}
		cleared += len(res.Intervals)
	}
	got, err := testutil.GatherAndCount(reg, "cleared_intervals_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got == 0 && cleared > 0 {
		t.Errorf("scenario %s recorded no cleared intervals", sc.Name)
	}
}
