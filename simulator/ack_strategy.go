package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremqtt "github.com/kilianp07/transactive/core/mqtt"
	"github.com/kilianp07/transactive/infra/logger"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// AckStrategy defines how the gateway acknowledges commands.
type AckStrategy interface {
	Ack(ctx context.Context, cli paho.Client, topic string, ack coremqtt.Ack)
}

// AutoAck sends an ack after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, cli paho.Client, topic string, ack coremqtt.Ack) {
	if !wait(ctx, a.Delay) {
		return
	}
	publishAck(cli, topic, ack)
}

// RandomAck drops acknowledgments with DropRate, turns accepted commands into
// rejections with RejectRate and waits Delay before sending.
type RandomAck struct {
	Delay      time.Duration
	DropRate   float64
	RejectRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, cli paho.Client, topic string, ack coremqtt.Ack) {
	if r.DropRate > 0 && rng.Float64() < r.DropRate {
		return
	}
	if ack.Error == "" && r.RejectRate > 0 && rng.Float64() < r.RejectRate {
		ack.Error = "simulated rejection"
	}
	if !wait(ctx, r.Delay) {
		return
	}
	publishAck(cli, topic, ack)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func publishAck(cli paho.Client, topic string, ack coremqtt.Ack) {
	log := logger.New("simulator")
	payload, err := json.Marshal(ack)
	if err != nil {
		log.Errorf("marshal ack: %v", err)
		return
	}
	token := cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Warnf("ack publish timeout for %s", ack.CommandID)
		return
	}
	if err := token.Error(); err != nil {
		log.Errorf("publish ack for %s: %v", ack.CommandID, err)
	}
}
