package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes market records to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(timeout time.Duration, points ...*write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordClearing writes one cleared_interval point per row, stamped with the
// interval start.
func (s *InfluxSink) RecordClearing(rows []model.ClearedInterval) error {
	if len(rows) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, write.NewPointWithMeasurement("cleared_interval").
			AddTag("market", r.Market).
			AddTag("interval_id", r.IntervalID).
			AddTag("converged", strconv.FormatBool(r.Converged)).
			AddField("marginal_price", round6(r.MarginalPrice)).
			AddField("net_power", round3(r.NetPower)).
			AddField("generation", round3(r.Generation)).
			AddField("demand", round3(r.Demand)).
			AddField("state", r.State).
			SetTime(r.Start))
	}
	return s.write(10*time.Second, points...)
}

// RecordConvergence writes a balancing_pass point.
func (s *InfluxSink) RecordConvergence(ev coremetrics.ConvergenceEvent) error {
	p := write.NewPointWithMeasurement("balancing_pass").
		AddTag("market", ev.Market).
		AddTag("forced", strconv.FormatBool(ev.Forced)).
		AddField("iterations", ev.Iterations).
		AddField("converged", ev.Converged).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	if !math.IsInf(ev.DualityGap, 0) && !math.IsNaN(ev.DualityGap) {
		p.AddField("duality_gap", round6(ev.DualityGap))
	}
	return s.write(5*time.Second, p)
}

// RecordSignal writes one transactive_record point per record.
func (s *InfluxSink) RecordSignal(ev coremetrics.SignalEvent) error {
	if len(ev.Records) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(ev.Records))
	for _, r := range ev.Records {
		points = append(points, write.NewPointWithMeasurement("transactive_record").
			AddTag("market", ev.Market).
			AddTag("neighbor", ev.Neighbor).
			AddTag("interval_id", ev.Interval).
			AddTag("direction", string(ev.Direction)).
			AddTag("record", strconv.Itoa(r.RecordIndex)).
			AddField("marginal_price", round6(r.MarginalPrice)).
			AddField("power", round3(r.Power)).
			AddField("cost", round3(r.Cost)).
			SetTime(ev.Time))
	}
	return s.write(5*time.Second, points...)
}

// RecordConsensus writes a negotiation point.
func (s *InfluxSink) RecordConsensus(ev coremetrics.ConsensusEvent) error {
	p := write.NewPointWithMeasurement("negotiation").
		AddTag("market", ev.Market).
		AddTag("settled", strconv.FormatBool(ev.Settled)).
		AddField("rounds", ev.Rounds).
		AddField("sent", ev.Sent).
		AddField("received", ev.Received).
		SetTime(ev.Time)
	return s.write(5*time.Second, p)
}

// RecordState writes a market_state point.
func (s *InfluxSink) RecordState(ev coremetrics.StateEvent) error {
	p := write.NewPointWithMeasurement("market_state").
		AddTag("market", ev.Market).
		AddField("from", ev.From).
		AddField("to", ev.To).
		SetTime(ev.Time)
	return s.write(5*time.Second, p)
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
