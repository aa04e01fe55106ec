package domain

// Remote order statuses as reported by the broker.
const (
	BrokerStatusNew       = "NEW"
	BrokerStatusWorking   = "WORKING"
	BrokerStatusFilled    = "FILLED"
	BrokerStatusCancelled = "CANCELLED"
	BrokerStatusRejected  = "REJECTED"
)

// BrokerOrder is the broker's acknowledgement of a placed order.
type BrokerOrder struct {
	ID string
}

// BrokerOrderState is a point-in-time snapshot of a remote order.
type BrokerOrderState struct {
	Status         string
	FilledQuantity float64
	FilledValue    float64
}

// AvgFillPrice returns the average execution price, or 0 when nothing
// has filled.
func (s *BrokerOrderState) AvgFillPrice() float64 {
	if s.FilledQuantity <= 0 {
		return 0
	}
	return s.FilledValue / s.FilledQuantity
}

// BrokerPosition is one row of the broker's authoritative portfolio
// snapshot. Ticker is the primary matching key; AltTicker is consulted
// when the primary is absent.
type BrokerPosition struct {
	Ticker       string
	AltTicker    string
	Quantity     float64
	CurrentPrice float64
}

// MatchKey returns the identifier reconciliation matches on. An empty
// key never matches anything.
func (p *BrokerPosition) MatchKey() string {
	if p.Ticker != "" {
		return p.Ticker
	}
	return p.AltTicker
}

// Quote is the latest tradable price for a symbol.
type Quote struct {
	Symbol string
	Price  float64
}
