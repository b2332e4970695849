// Package mqtt defines the MQTT wire contract of a node: topic layout and the
// payloads exchanged with device gateways.
package mqtt

import "time"

// SetCommand asks a gateway to write a device point.
type SetCommand struct {
	CommandID string    `json:"command_id"`
	Address   string    `json:"address"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Ack acknowledges a SetCommand. Error is set when the gateway rejected it.
type Ack struct {
	CommandID string `json:"command_id"`
	Error     string `json:"error,omitempty"`
}

// PointValue is a reading published by a gateway.
type PointValue struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
