package mqtt

import "errors"

var (
	// ErrAckTimeout is returned when no acknowledgment is received before the timeout.
	ErrAckTimeout = errors.New("timeout waiting for ack")
	// ErrNoValue is returned when a point has not reported a value yet.
	ErrNoValue = errors.New("no value received for point")
	// ErrStaleValue is returned when the last value of a point is too old.
	ErrStaleValue = errors.New("point value is stale")
	// ErrCommandRejected is returned when a gateway acknowledges a command with an error.
	ErrCommandRejected = errors.New("command rejected by gateway")
)
