package model

// MarketState is the lifecycle stage of a clearing cycle.
type MarketState int

const (
	StateInactive MarketState = iota
	StateNegotiation
	StateMarketLead
	StateDeliveryLead
	StateDelivery
	StateExpired
)

// String returns a human-readable representation of the state.
func (s MarketState) String() string {
	switch s {
	case StateInactive:
		return "Inactive"
	case StateNegotiation:
		return "Negotiation"
	case StateMarketLead:
		return "MarketLead"
	case StateDeliveryLead:
		return "DeliveryLead"
	case StateDelivery:
		return "Delivery"
	case StateExpired:
		return "Expired"
	default:
		return "unknown"
	}
}

// CanTransition reports whether a market may move from s to next. States only
// move forward, except that any state may restart negotiation for a new
// cycle and a cleared market may reopen negotiation before delivery.
func (s MarketState) CanTransition(next MarketState) bool {
	if next == s {
		return true
	}
	if next == StateNegotiation {
		return true
	}
	return next > s && next <= StateExpired
}
