package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/monitoring"
	coremqtt "github.com/kilianp07/transactive/core/mqtt"
	"github.com/kilianp07/transactive/infra/logger"
)

// PointClient reads and writes device points through an MQTT gateway.
// Readings are cached from the gateway's value topics; writes wait for the
// gateway's acknowledgment.
type PointClient struct {
	conn       *conn
	topics     coremqtt.Topics
	ackTimeout time.Duration
	maxAge     time.Duration
	now        func() time.Time

	mu     sync.Mutex
	values map[string]coremqtt.PointValue
	acks   map[string]chan coremqtt.Ack
}

var _ asset.PointIO = (*PointClient)(nil)

// NewPointClient connects to the broker and subscribes to point traffic.
func NewPointClient(cfg Config, log logger.Logger) (*PointClient, error) {
	cfg.SetDefaults()
	p := &PointClient{
		topics:     cfg.topics(),
		ackTimeout: time.Duration(cfg.AckTimeoutMS) * time.Millisecond,
		maxAge:     time.Duration(cfg.MaxValueAgeSeconds) * time.Second,
		now:        time.Now,
		values:     make(map[string]coremqtt.PointValue),
		acks:       make(map[string]chan coremqtt.Ack),
	}
	c, err := dial(cfg, log, subscription{
		topic:   p.topics.PointSubscription(),
		qos:     cfg.qos("ack"),
		handler: p.onMessage,
	})
	if err != nil {
		return nil, err
	}
	p.conn = c
	return p, nil
}

// SetMonitor configures error reporting for failed commands.
func (p *PointClient) SetMonitor(m monitoring.Monitor) {
	if m != nil {
		p.conn.monitor = m
	}
}

func (p *PointClient) onMessage(_ paho.Client, msg paho.Message) {
	if msg.Topic() == p.topics.Ack() {
		p.onAck(msg.Payload())
		return
	}
	addr, ok := p.topics.ParsePointValue(msg.Topic())
	if !ok {
		return
	}
	var v coremqtt.PointValue
	if err := json.Unmarshal(msg.Payload(), &v); err != nil {
		p.conn.log.Warnf("invalid reading on %s: %v", msg.Topic(), err)
		return
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = p.now()
	}
	p.mu.Lock()
	p.values[addr] = v
	p.mu.Unlock()
}

func (p *PointClient) onAck(payload []byte) {
	var ack coremqtt.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		p.conn.log.Errorf("invalid ack: %v", err)
		return
	}
	p.mu.Lock()
	ch, ok := p.acks[ack.CommandID]
	p.mu.Unlock()
	if !ok {
		p.conn.log.Debugf("ack for unknown command %s", ack.CommandID)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// GetPoint returns the last reading of address.
func (p *PointClient) GetPoint(_ context.Context, address string) (float64, error) {
	p.mu.Lock()
	v, ok := p.values[address]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("point %s: %w", address, coremqtt.ErrNoValue)
	}
	if p.maxAge > 0 && p.now().Sub(v.Timestamp) > p.maxAge {
		return 0, fmt.Errorf("point %s read at %s: %w", address, v.Timestamp.Format(time.RFC3339), coremqtt.ErrStaleValue)
	}
	return v.Value, nil
}

// SetPoint publishes a write command and waits for its acknowledgment.
func (p *PointClient) SetPoint(ctx context.Context, address string, value float64) error {
	cmd := coremqtt.SetCommand{CommandID: uuid.NewString(), Address: address, Value: value, Timestamp: p.now()}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	ch := make(chan coremqtt.Ack, 1)
	p.mu.Lock()
	p.acks[cmd.CommandID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.acks, cmd.CommandID)
		p.mu.Unlock()
	}()

	tags := map[string]string{"point": address, "command_id": cmd.CommandID}
	if err := p.conn.publish(ctx, p.topics.PointSet(address), p.conn.cfg.qos("command"), payload, tags); err != nil {
		return err
	}
	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if ack.Error != "" {
			err := fmt.Errorf("point %s: %s: %w", address, ack.Error, coremqtt.ErrCommandRejected)
			p.conn.monitor.CaptureException(err, tags)
			return err
		}
		return nil
	case <-timer.C:
		err := fmt.Errorf("point %s command %s: %w", address, cmd.CommandID, coremqtt.ErrAckTimeout)
		p.conn.monitor.CaptureException(err, tags)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *PointClient) Close() error {
	p.conn.disconnect()
	return nil
}
