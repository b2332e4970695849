package signal

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/transactive/core/model"
)

// ErrTransportClosed is returned once a transport has been closed.
var ErrTransportClosed = errors.New("transport closed")

// Envelope is one signal in flight between two nodes.
type Envelope struct {
	ID         string                    `json:"id"`
	From       string                    `json:"from"`
	To         string                    `json:"to"`
	Market     string                    `json:"market"`
	IntervalID string                    `json:"interval_id"`
	Records    []model.TransactiveRecord `json:"records"`
	SentAt     time.Time                 `json:"sent_at"`
}

// Received returns the records as stored by the receiving node: direction is
// received and the neighbor is the sender.
func (e Envelope) Received() []model.TransactiveRecord {
	out := make([]model.TransactiveRecord, len(e.Records))
	for i, r := range e.Records {
		r.Direction = model.Received
		r.NeighborID = e.From
		out[i] = r
	}
	return out
}

// Transport exchanges signals with neighboring nodes. Implementations must be
// safe for concurrent use by one sender and one receiver goroutine.
type Transport interface {
	SendSignal(ctx context.Context, neighborID, intervalID string, records []model.TransactiveRecord) error
	ReceiveSignal(ctx context.Context) (Envelope, error)
	Close() error
}

// MarketOf returns the market named by the first record.
func MarketOf(records []model.TransactiveRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[0].MarketName
}
