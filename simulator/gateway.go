package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremqtt "github.com/kilianp07/transactive/core/mqtt"
	"github.com/kilianp07/transactive/infra/logger"
)

var mqttClientFactory = realMQTTClient

func realMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}

// Gateway exposes simulated devices over the point protocol: it applies set
// commands, acknowledges them and publishes readings every Interval.
type Gateway struct {
	Broker   string
	ClientID string
	Topics   coremqtt.Topics
	Interval time.Duration
	Strategy AckStrategy
	Devices  []Device

	log      logger.Logger
	client   paho.Client
	ackCh    chan coremqtt.Ack
	mu       sync.Mutex
	writable map[string]Device
	last     time.Time
}

// NewGateway indexes the writable points of devices.
func NewGateway(cfg Config, strat AckStrategy, devices []Device) (*Gateway, error) {
	g := &Gateway{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Topics:   coremqtt.Topics{Prefix: cfg.TopicPrefix},
		Interval: cfg.Interval,
		Strategy: strat,
		Devices:  devices,
		log:      logger.New("simulator"),
		ackCh:    make(chan coremqtt.Ack, 50),
		writable: make(map[string]Device),
	}
	for _, d := range devices {
		for _, addr := range d.Writable() {
			if _, dup := g.writable[addr]; dup {
				return nil, fmt.Errorf("point %s exposed twice", addr)
			}
			g.writable[addr] = d
		}
	}
	return g, nil
}

// Run connects to the broker and serves commands until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	cli, err := mqttClientFactory(g.Broker, g.ClientID)
	if err != nil {
		return err
	}
	g.client = cli
	defer cli.Disconnect(250)
	for i := 0; i < 5; i++ {
		go g.worker(ctx)
	}
	topic := g.Topics.PointSubscription()
	if token := cli.Subscribe(topic, 1, g.onMessage); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	g.log.Infof("gateway serving %d writable points under %s", len(g.writable), topic)
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	g.publishReadings(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			g.publishReadings(now)
		}
	}
}

func (g *Gateway) onMessage(_ paho.Client, msg paho.Message) {
	addr, ok := g.Topics.ParsePointSet(msg.Topic())
	if !ok {
		return
	}
	var cmd coremqtt.SetCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		g.log.Warnf("decode command on %s: %v", msg.Topic(), err)
		return
	}
	ack := coremqtt.Ack{CommandID: cmd.CommandID}
	if err := g.apply(addr, cmd.Value); err != nil {
		ack.Error = err.Error()
	}
	select {
	case g.ackCh <- ack:
	default:
		g.log.Warnf("ack queue full, dropping command %s", cmd.CommandID)
	}
}

func (g *Gateway) apply(addr string, value float64) error {
	g.mu.Lock()
	d, ok := g.writable[addr]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", addr, ErrReadOnly)
	}
	return d.Set(addr, value)
}

func (g *Gateway) worker(ctx context.Context) {
	for {
		select {
		case ack := <-g.ackCh:
			g.Strategy.Ack(ctx, g.client, g.Topics.Ack(), ack)
		case <-ctx.Done():
			return
		}
	}
}

// publishReadings steps every device by the time since the last call and
// publishes their readings.
func (g *Gateway) publishReadings(now time.Time) {
	dt := g.Interval
	if !g.last.IsZero() {
		dt = now.Sub(g.last)
	}
	g.last = now
	for _, d := range g.Devices {
		for addr, v := range d.Step(now, dt) {
			payload, err := json.Marshal(coremqtt.PointValue{Value: v, Timestamp: now})
			if err != nil {
				g.log.Errorf("marshal reading %s: %v", addr, err)
				continue
			}
			token := g.client.Publish(g.Topics.PointValue(addr), 0, false, payload)
			if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				g.log.Warnf("publish reading %s: %v", addr, token.Error())
			}
		}
	}
}
