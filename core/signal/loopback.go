package signal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/transactive/core/model"
)

const mailboxSize = 256

// Hub connects in-process nodes. Each node obtains its transport with
// Endpoint; signals sent to a node id are queued in that node's mailbox.
type Hub struct {
	mu    sync.Mutex
	boxes map[string]chan Envelope
}

// NewHub returns an empty hub.
func NewHub() *Hub { return &Hub{boxes: make(map[string]chan Envelope)} }

func (h *Hub) box(id string) chan Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.boxes[id]
	if !ok {
		ch = make(chan Envelope, mailboxSize)
		h.boxes[id] = ch
	}
	return ch
}

// Endpoint returns the transport of node id.
func (h *Hub) Endpoint(id string) *Loopback {
	return &Loopback{hub: h, id: id, inbox: h.box(id), done: make(chan struct{})}
}

// Loopback is an in-process Transport.
type Loopback struct {
	hub   *Hub
	id    string
	inbox chan Envelope
	once  sync.Once
	done  chan struct{}
}

// SendSignal queues the records in the neighbor's mailbox, blocking while the
// mailbox is full until ctx is done.
func (l *Loopback) SendSignal(ctx context.Context, neighborID, intervalID string, records []model.TransactiveRecord) error {
	select {
	case <-l.done:
		return ErrTransportClosed
	default:
	}
	env := Envelope{
		ID:         uuid.NewString(),
		From:       l.id,
		To:         neighborID,
		Market:     MarketOf(records),
		IntervalID: intervalID,
		Records:    append([]model.TransactiveRecord(nil), records...),
		SentAt:     time.Now(),
	}
	select {
	case l.hub.box(neighborID) <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveSignal blocks until a signal arrives, ctx is done or the transport
// is closed.
func (l *Loopback) ReceiveSignal(ctx context.Context) (Envelope, error) {
	select {
	case env := <-l.inbox:
		return env, nil
	case <-l.done:
		return Envelope{}, ErrTransportClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close stops the endpoint. Pending signals stay in the mailbox.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
