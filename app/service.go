// Package app wires a configured node: markets and their participants, the
// MQTT transports, metrics sinks, error monitoring and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/transactive/api"
	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/market"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	coremon "github.com/kilianp07/transactive/core/monitoring"
	"github.com/kilianp07/transactive/core/neighbor"
	"github.com/kilianp07/transactive/core/node"
	"github.com/kilianp07/transactive/infra/logger"
	"github.com/kilianp07/transactive/infra/metrics"
	"github.com/kilianp07/transactive/infra/monitoring"
	"github.com/kilianp07/transactive/infra/mqtt"
	"github.com/kilianp07/transactive/internal/eventbus"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	offline bool
}

// Offline builds the service without MQTT, Sentry or the HTTP API. Transactive
// neighbors then fall back to their configured vertices.
func Offline() Option { return func(o *options) { o.offline = true } }

// Service orchestrates the node and its adapters.
type Service struct {
	Node *node.Node

	cfg       *config.Config
	log       logger.Logger
	bus       *eventbus.Bus
	sink      coremetrics.MetricsSink
	monitor   coremon.Monitor
	transport *mqtt.SignalTransport
	points    *mqtt.PointClient
	api       *api.Server
	closers   []io.Closer
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.New(), monitor: coremon.NopMonitor{}}
	if err := s.build(o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(o options) error {
	cfg := s.cfg
	if !o.offline {
		mon, err := monitoring.NewSentryMonitor(cfg.Sentry, cfg.Node.Name)
		if err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		s.monitor = mon
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink
	s.closers = append(s.closers, closersOf(sink)...)

	if !o.offline && cfg.MQTT.Broker != "" {
		if err := s.dialMQTT(); err != nil {
			return err
		}
	}

	nodeOpts := []node.Option{node.WithMonitor(s.monitor)}
	if s.transport != nil {
		nodeOpts = append(nodeOpts, node.WithTransport(s.transport))
	}
	n, err := node.New(cfg.Node, logger.New("node"), nodeOpts...)
	if err != nil {
		return err
	}
	s.Node = n

	markets := make(map[string]*market.Market, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		m, err := market.New(mc, logger.New("market"))
		if err != nil {
			return fmt.Errorf("market %s: %w", mc.Name, err)
		}
		m.SetBus(s.bus)
		m.SetSink(sink)
		if _, err := n.AddMarket(m); err != nil {
			return err
		}
		markets[mc.Name] = m
	}
	for _, ac := range cfg.Assets {
		var aopts []asset.Option
		if s.points != nil {
			aopts = append(aopts, asset.WithPointIO(s.points))
		}
		a, err := asset.New(ac, aopts...)
		if err != nil {
			return err
		}
		if err := markets[ac.Market].AddParticipant(a); err != nil {
			return err
		}
	}
	for _, nc := range cfg.Neighbors {
		p, err := neighbor.New(nc)
		if err != nil {
			return err
		}
		if err := markets[nc.Market].AddParticipant(p); err != nil {
			return err
		}
	}

	if !o.offline && cfg.API.Addr != "" {
		apiOpts := []api.Option{api.WithLogger(logger.New("api"))}
		if h := historyOf(sink); h != nil {
			apiOpts = append(apiOpts, api.WithHistory(h))
		}
		s.api = api.New(cfg.API, n, apiOpts...)
	}
	return nil
}

func (s *Service) dialMQTT() error {
	cfg := s.cfg
	needsTransport := false
	for _, nc := range cfg.Neighbors {
		if neighbor.Kind(nc.Kind) == neighbor.KindTransactive {
			needsTransport = true
		}
	}
	needsPoints := false
	for _, ac := range cfg.Assets {
		if len(ac.Points) > 0 {
			needsPoints = true
		}
	}
	if needsTransport {
		tr, err := mqtt.NewSignalTransport(cfg.MQTT, cfg.Node.Name, logger.New("mqtt-signal"))
		if err != nil {
			return fmt.Errorf("mqtt signal transport: %w", err)
		}
		tr.SetMonitor(s.monitor)
		s.transport = tr
		s.closers = append(s.closers, tr)
	}
	if needsPoints {
		pc := cfg.MQTT
		pc.ClientID = cfg.MQTT.ClientID + "-points"
		pc.LWTTopic = ""
		points, err := mqtt.NewPointClient(pc, logger.New("mqtt-points"))
		if err != nil {
			return fmt.Errorf("mqtt point client: %w", err)
		}
		points.SetMonitor(s.monitor)
		s.points = points
		s.closers = append(s.closers, points)
	}
	return nil
}

// closersOf returns the sinks holding resources.
func closersOf(sink coremetrics.MetricsSink) []io.Closer {
	var out []io.Closer
	if multi, ok := sink.(*coremetrics.MultiSink); ok {
		for _, s := range multi.Sinks {
			out = append(out, closersOf(s)...)
		}
		return out
	}
	if c, ok := sink.(io.Closer); ok {
		out = append(out, c)
	}
	return out
}

// historyOf returns the first journal among the configured sinks.
func historyOf(sink coremetrics.MetricsSink) api.History {
	switch s := sink.(type) {
	case *metrics.JournalSink:
		return s
	case *coremetrics.MultiSink:
		for _, sub := range s.Sinks {
			if h := historyOf(sub); h != nil {
				return h
			}
		}
	}
	return nil
}

// Run starts the node and the optional servers and blocks until ctx is
// canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.monitor.Flush(2 * time.Second)
	g, ctx := errgroup.WithContext(ctx)
	collected := metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics-collector"))
	g.Go(func() error {
		<-collected
		return nil
	})
	g.Go(func() error { return s.Node.Run(ctx) })
	if s.api != nil {
		g.Go(func() error { return s.api.Run(ctx) })
	}
	if addr := s.cfg.Metrics.PromAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr, nil, logger.New("prom-server")) })
	}
	s.log.Infof("node %s running %d markets", s.cfg.Node.Name, len(s.Node.Markets()))
	return g.Wait()
}

// Clear runs one local balancing pass per market at now, without exchanging
// signals, and returns the results in configuration order.
func (s *Service) Clear(ctx context.Context, now time.Time) ([]market.Result, error) {
	var out []market.Result
	for _, cm := range s.Node.Markets() {
		res, err := cm.Clear(ctx, now)
		if err != nil {
			return out, fmt.Errorf("market %s: %w", cm.Name(), err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Close releases the transports and sinks held by the service.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	s.bus.Close()
	return errors.Join(errs...)
}
