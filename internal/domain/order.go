package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusFailed          OrderStatus = "failed"
)

type OrderTag string

const (
	OrderTagEntry       OrderTag = "entry"
	OrderTagExit        OrderTag = "exit"
	OrderTagDCA         OrderTag = "dca"
	OrderTagStopLoss    OrderTag = "stoploss"
	OrderTagTakeProfit  OrderTag = "take_profit"
	OrderTagPartialExit OrderTag = "partial_exit"
)

// OpenOrderStatuses are the statuses a resting order can be in while it is
// still working and eligible for repricing.
var OpenOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusOpen,
	OrderStatusPartiallyFilled,
}

// Order is a locally tracked order. BrokerOrderID stays empty until the
// broker acknowledges the order; ReplacedByOrderID links successive
// repricings of the same intent into a replacement chain.
type Order struct {
	ID                string
	Symbol            string
	Instrument        string // broker-side instrument identifier, may be empty
	Side              Side
	Type              OrderType
	Status            OrderStatus
	Tag               OrderTag
	RequestedQuantity float64
	RequestedPrice    float64
	StopPrice         float64
	FilledQuantity    float64
	FilledPrice       float64
	BrokerOrderID     string
	ReplacedByOrderID string
	StatusReason      string
	AccountID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsProtected reports whether the order carries a tag that must never be
// replaced or auto-repriced.
func (o *Order) IsProtected() bool {
	return o.Tag == OrderTagStopLoss || o.Tag == OrderTagTakeProfit
}

// Age returns how long the order has been resting.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}
