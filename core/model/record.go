package model

import "time"

// Direction tells whether a record was sent to or received from a neighbor.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// TransactiveRecord is one point of a signal exchanged between neighboring
// nodes. A signal for an interval is the list of its records: one record
// expresses an inelastic quantity, two or more a flexible curve.
type TransactiveRecord struct {
	IntervalID    string    `json:"interval_id"`
	NeighborID    string    `json:"neighbor_id"`
	Direction     Direction `json:"direction"`
	MarketName    string    `json:"market_name"`
	RecordIndex   int       `json:"record_index"`
	MarginalPrice float64   `json:"marginal_price"`
	Power         float64   `json:"power"`
	Cost          float64   `json:"cost,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ClearedInterval is the observable result of clearing one interval.
type ClearedInterval struct {
	Market        string    `json:"market" yaml:"market"`
	IntervalID    string    `json:"interval_id" yaml:"interval_id"`
	Start         time.Time `json:"start" yaml:"start"`
	End           time.Time `json:"end" yaml:"end"`
	MarginalPrice float64   `json:"marginal_price" yaml:"marginal_price"`
	NetPower      float64   `json:"net_power" yaml:"net_power"`
	Generation    float64   `json:"generation" yaml:"generation"`
	Demand        float64   `json:"demand" yaml:"demand"`
	Converged     bool      `json:"converged" yaml:"converged"`
	State         string    `json:"state" yaml:"state"`
}
