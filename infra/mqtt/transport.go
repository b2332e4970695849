package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/monitoring"
	coremqtt "github.com/kilianp07/transactive/core/mqtt"
	"github.com/kilianp07/transactive/core/signal"
	"github.com/kilianp07/transactive/infra/logger"
)

const signalInboxSize = 256

// SignalTransport exchanges transactive signals with neighboring nodes over
// MQTT. A node subscribes to its own signal topic in every market and
// publishes to the topic of the neighbor it addresses.
type SignalTransport struct {
	conn   *conn
	node   string
	topics coremqtt.Topics
	inbox  chan signal.Envelope
	done   chan struct{}
	once   sync.Once
}

var _ signal.Transport = (*SignalTransport)(nil)

// NewSignalTransport connects to the broker as node.
func NewSignalTransport(cfg Config, node string, log logger.Logger) (*SignalTransport, error) {
	if node == "" {
		return nil, fmt.Errorf("signal transport: node name is required")
	}
	cfg.SetDefaults()
	t := &SignalTransport{
		node:   node,
		topics: cfg.topics(),
		inbox:  make(chan signal.Envelope, signalInboxSize),
		done:   make(chan struct{}),
	}
	c, err := dial(cfg, log, subscription{
		topic:   t.topics.SignalSubscription(node),
		qos:     cfg.qos("signal"),
		handler: t.onSignal,
	})
	if err != nil {
		return nil, err
	}
	t.conn = c
	return t, nil
}

// SetMonitor configures error reporting for failed publishes.
func (t *SignalTransport) SetMonitor(m monitoring.Monitor) {
	if m != nil {
		t.conn.monitor = m
	}
}

func (t *SignalTransport) onSignal(_ paho.Client, msg paho.Message) {
	var env signal.Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		t.conn.log.Warnf("invalid signal on %s: %v", msg.Topic(), err)
		return
	}
	if env.To != t.node || env.From == t.node {
		return
	}
	select {
	case t.inbox <- env:
	case <-t.done:
	default:
		t.conn.log.Warnf("signal inbox full, dropping %s from %s", env.IntervalID, env.From)
	}
}

// SendSignal publishes records to neighborID on the topic of the records'
// market.
func (t *SignalTransport) SendSignal(ctx context.Context, neighborID, intervalID string, records []model.TransactiveRecord) error {
	select {
	case <-t.done:
		return signal.ErrTransportClosed
	default:
	}
	market := signal.MarketOf(records)
	if market == "" {
		return fmt.Errorf("signal to %s for %s carries no market", neighborID, intervalID)
	}
	env := signal.Envelope{
		ID:         uuid.NewString(),
		From:       t.node,
		To:         neighborID,
		Market:     market,
		IntervalID: intervalID,
		Records:    records,
		SentAt:     time.Now(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tags := map[string]string{"market": market, "neighbor": neighborID}
	return t.conn.publish(ctx, t.topics.Signal(market, neighborID), t.conn.cfg.qos("signal"), payload, tags)
}

// ReceiveSignal blocks until a signal arrives, ctx is done or the transport
// is closed.
func (t *SignalTransport) ReceiveSignal(ctx context.Context) (signal.Envelope, error) {
	select {
	case env := <-t.inbox:
		return env, nil
	case <-t.done:
		return signal.Envelope{}, signal.ErrTransportClosed
	case <-ctx.Done():
		return signal.Envelope{}, ctx.Err()
	}
}

// Close disconnects from the broker.
func (t *SignalTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.conn.disconnect()
	})
	return nil
}
