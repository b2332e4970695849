package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/transactive/core/model"
	"github.com/kilianp07/transactive/core/signal"
)

func records(market string) []model.TransactiveRecord {
	return []model.TransactiveRecord{
		{MarketName: market, IntervalID: "i1", RecordIndex: 0, MarginalPrice: 0.03, Power: -20},
		{MarketName: market, IntervalID: "i1", RecordIndex: 1, MarginalPrice: 0.08, Power: 40},
	}
}

func TestSignalTransportSend(t *testing.T) {
	mc := useMock(t)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "feeder", QoS: map[string]byte{"signal": 1}}
	tr, err := NewSignalTransport(cfg, "feeder", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "tns/+/feeder/signal", mc.subscribed[0].topic)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)

	require.NoError(t, tr.SendSignal(context.Background(), "substation", "i1", records("rt")))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "tns/rt/substation/signal", mc.published[0].topic)
	var env signal.Envelope
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &env))
	assert.Equal(t, "feeder", env.From)
	assert.Equal(t, "substation", env.To)
	assert.Equal(t, "rt", env.Market)
	assert.NotEmpty(t, env.ID)
	assert.Len(t, env.Records, 2)

	assert.Error(t, tr.SendSignal(context.Background(), "substation", "i1", nil))
}

func TestSignalTransportReceive(t *testing.T) {
	mc := useMock(t)
	tr, err := NewSignalTransport(Config{Broker: "tcp://localhost:1883", ClientID: "feeder"}, "feeder", nil)
	require.NoError(t, err)
	defer tr.Close()

	sub := "tns/+/feeder/signal"
	send := func(env signal.Envelope) {
		b, err := json.Marshal(env)
		require.NoError(t, err)
		mc.deliver(sub, "tns/rt/feeder/signal", b)
	}
	send(signal.Envelope{ID: "x", From: "feeder", To: "feeder", IntervalID: "i0"})
	send(signal.Envelope{ID: "y", From: "substation", To: "other", IntervalID: "i0"})
	mc.deliver(sub, "tns/rt/feeder/signal", []byte("{"))
	send(signal.Envelope{ID: "z", From: "substation", To: "feeder", Market: "rt", IntervalID: "i1", Records: records("rt")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := tr.ReceiveSignal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "z", env.ID)
	assert.Equal(t, "substation", env.Received()[0].NeighborID)
}

func TestSignalTransportClose(t *testing.T) {
	useMock(t)
	tr, err := NewSignalTransport(Config{Broker: "tcp://localhost:1883", ClientID: "feeder"}, "feeder", nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, err = tr.ReceiveSignal(context.Background())
	assert.ErrorIs(t, err, signal.ErrTransportClosed)
	assert.ErrorIs(t, tr.SendSignal(context.Background(), "b", "i1", records("rt")), signal.ErrTransportClosed)

	_, err = NewSignalTransport(Config{Broker: "tcp://localhost:1883", ClientID: "feeder"}, "", nil)
	assert.Error(t, err)
}

func TestRetryLogic(t *testing.T) {
	mc := useMock(t)
	mc.publishErrs = []error{errors.New("net fail"), nil}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}
	tr, err := NewSignalTransport(cfg, "feeder", nil)
	require.NoError(t, err)
	require.NoError(t, tr.SendSignal(context.Background(), "substation", "i1", records("rt")))
	assert.Len(t, mc.published, 2)
}

func TestRetryExhausted(t *testing.T) {
	mc := useMock(t)
	fail := errors.New("net fail")
	mc.publishErrs = []error{fail, fail, fail}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 2, BackoffMS: 1}
	tr, err := NewSignalTransport(cfg, "feeder", nil)
	require.NoError(t, err)
	mon := &captureMonitor{}
	tr.SetMonitor(mon)
	err = tr.SendSignal(context.Background(), "substation", "i1", records("rt"))
	assert.ErrorIs(t, err, fail)
	assert.Len(t, mc.published, 3)
	require.Len(t, mon.errs, 1)
	assert.Equal(t, "substation", mon.tags["neighbor"])
}

type captureMonitor struct {
	errs []error
	tags map[string]string
}

func (c *captureMonitor) CaptureException(err error, tags map[string]string) {
	c.errs = append(c.errs, err)
	c.tags = tags
}
func (c *captureMonitor) Recover()            {}
func (c *captureMonitor) Flush(time.Duration) {}
