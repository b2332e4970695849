// Package signal converts curves to transactive records and back, decides
// when a signal has changed enough to be resent, and defines the transport
// contract used to exchange signals between neighboring nodes.
package signal

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/transactive/core/curve"
	"github.com/kilianp07/transactive/core/model"
)

// Meta carries the addressing fields stamped on every encoded record.
type Meta struct {
	Market     string
	IntervalID string
	NeighborID string
	Direction  model.Direction
	Timestamp  time.Time
}

// Encode turns a curve into one record per vertex. Record i corresponds to
// vertex i of the canonical curve.
func Encode(vs []curve.Vertex, m Meta) []model.TransactiveRecord {
	ordered := curve.Normalize(vs)
	out := make([]model.TransactiveRecord, 0, len(ordered))
	for i, v := range ordered {
		out = append(out, model.TransactiveRecord{
			IntervalID:    m.IntervalID,
			NeighborID:    m.NeighborID,
			Direction:     m.Direction,
			MarketName:    m.Market,
			RecordIndex:   i,
			MarginalPrice: v.MarginalPrice,
			Power:         v.Power,
			Cost:          v.Cost,
			Timestamp:     m.Timestamp,
		})
	}
	return out
}

// Decode rebuilds the canonical curve from records, ordered by record index.
func Decode(records []model.TransactiveRecord) ([]curve.Vertex, error) {
	if len(records) == 0 {
		return nil, curve.ErrNoActiveVertex
	}
	rs := sortedByIndex(records)
	vs := make([]curve.Vertex, 0, len(rs))
	for _, r := range rs {
		vs = append(vs, curve.Vertex{MarginalPrice: r.MarginalPrice, Power: r.Power, Cost: r.Cost})
	}
	vs = curve.Normalize(vs)
	if err := curve.Validate(vs); err != nil {
		return nil, fmt.Errorf("decode signal %s: %w", records[0].IntervalID, err)
	}
	return vs, nil
}

func sortedByIndex(records []model.TransactiveRecord) []model.TransactiveRecord {
	rs := make([]model.TransactiveRecord, len(records))
	copy(rs, records)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].RecordIndex < rs[j].RecordIndex })
	return rs
}
