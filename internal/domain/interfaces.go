package domain

import "context"

// BrokerGateway defines the interface for order execution and portfolio
// queries against the remote brokerage. Calls may fail or time out; the
// engines bound retries, the transport owns deadlines.
type BrokerGateway interface {
	PlaceMarketOrder(ctx context.Context, instrument string, side Side, quantity float64) (*BrokerOrder, error)
	PlaceLimitOrder(ctx context.Context, instrument string, side Side, quantity, price float64) (*BrokerOrder, error)
	PlaceStopOrder(ctx context.Context, instrument string, side Side, quantity, stopPrice float64) (*BrokerOrder, error)
	GetOrder(ctx context.Context, remoteID string) (*BrokerOrderState, error)
	CancelOrder(ctx context.Context, remoteID string) error
	GetPortfolio(ctx context.Context) ([]BrokerPosition, error)
}

// PriceOracle supplies the latest tradable price for a symbol. A nil
// quote with nil error means no price is currently known.
type PriceOracle interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// OrderRepository defines storage operations for local orders.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	ListOrdersByStatuses(ctx context.Context, statuses []OrderStatus) ([]*Order, error)

	// FindReplacementSource returns the order whose ReplacedByOrderID
	// equals id, or nil when the order is the root of its chain.
	FindReplacementSource(ctx context.Context, id string) (*Order, error)
}

// PositionRepository defines storage operations for open positions.
type PositionRepository interface {
	SavePosition(ctx context.Context, position *Position) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	ListPositions(ctx context.Context) ([]*Position, error)
	UpdateTrailingStop(ctx context.Context, symbol string, stop float64) error
	DeletePosition(ctx context.Context, symbol string) error
}

// ConditionalOrderRepository defines storage operations for conditional
// orders and OCO groups.
type ConditionalOrderRepository interface {
	SaveConditionalOrder(ctx context.Context, order *ConditionalOrder) error
	GetConditionalOrder(ctx context.Context, id string) (*ConditionalOrder, error)
	ListConditionalOrdersByStatus(ctx context.Context, status ConditionalStatus) ([]*ConditionalOrder, error)
	ListConditionalOrdersBySymbol(ctx context.Context, symbol string, status ConditionalStatus) ([]*ConditionalOrder, error)
	UpdateConditionalOrderStatus(ctx context.Context, id string, status ConditionalStatus) error
	CountActiveConditionalOrders(ctx context.Context) (int, error)

	// MarkTriggeredAndCancelSiblings transitions the order to triggered
	// and every other pending member of its OCO group to cancelled in a
	// single transaction, so a crash cannot leave two siblings live.
	// Returns ErrNotPending when the order already left the pending
	// state; the caller must not act on the trigger then.
	MarkTriggeredAndCancelSiblings(ctx context.Context, order *ConditionalOrder) error
}

// TradeRepository defines storage operations for the closed-trade journal.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
}
