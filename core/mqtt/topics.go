package mqtt

import "strings"

// DefaultPrefix is the root of every topic.
const DefaultPrefix = "tns"

// Topics builds topic names under a prefix:
//
//	<prefix>/<market>/<node>/signal   transactive signals for a node
//	<prefix>/points/<address>/set     point write commands
//	<prefix>/points/<address>/value   point readings
//	<prefix>/points/ack               command acknowledgments
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Signal returns the topic of signals for node in market.
func (t Topics) Signal(market, node string) string {
	return t.prefix() + "/" + market + "/" + node + "/signal"
}

// SignalSubscription matches the signals of every market for node.
func (t Topics) SignalSubscription(node string) string {
	return t.prefix() + "/+/" + node + "/signal"
}

// PointSet returns the command topic of a point.
func (t Topics) PointSet(address string) string {
	return t.prefix() + "/points/" + address + "/set"
}

// PointValue returns the reading topic of a point.
func (t Topics) PointValue(address string) string {
	return t.prefix() + "/points/" + address + "/value"
}

// PointSubscription matches every point topic.
func (t Topics) PointSubscription() string { return t.prefix() + "/points/#" }

// Ack returns the acknowledgment topic.
func (t Topics) Ack() string { return t.prefix() + "/points/ack" }

// ParsePointValue extracts the address of a reading topic.
func (t Topics) ParsePointValue(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/points/")
	if !ok {
		return "", false
	}
	addr, ok := strings.CutSuffix(rest, "/value")
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}

// ParsePointSet extracts the address of a command topic.
func (t Topics) ParsePointSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/points/")
	if !ok {
		return "", false
	}
	addr, ok := strings.CutSuffix(rest, "/set")
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}
