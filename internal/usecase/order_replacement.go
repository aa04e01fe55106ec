package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

// ReplacementConfig controls stale-order repricing.
type ReplacementConfig struct {
	Enabled             bool    `json:"enabled"`
	Simulated           bool    `json:"simulated"`             // fill replacements locally instead of hitting the broker
	ReplaceAfterSeconds int     `json:"replace_after_seconds"` // minimum resting age before repricing
	PriceDeviationPct   float64 `json:"price_deviation_pct"`   // e.g. 0.01 for 1%
	MaxReplacements     int     `json:"max_replacements"`      // replacement-chain depth limit
}

// ReplaceResult aggregates one ProcessOpenOrders batch.
type ReplaceResult struct {
	Checked            int      `json:"checked"`
	Replaced           int      `json:"replaced"`
	Skipped            int      `json:"skipped"`
	FilledDuringCancel int      `json:"filled_during_cancel"`
	Errors             []string `json:"errors,omitempty"`
}

type ReplaceOutcome string

const (
	ReplaceOutcomeReplaced           ReplaceOutcome = "replaced"
	ReplaceOutcomeFilledDuringCancel ReplaceOutcome = "filled_during_cancel"
)

// ReplaceOrderResult reports a single replacement attempt. NewOrderID is
// set only when Outcome is replaced.
type ReplaceOrderResult struct {
	Outcome    ReplaceOutcome `json:"outcome"`
	OldOrderID string         `json:"old_order_id"`
	NewOrderID string         `json:"new_order_id,omitempty"`
}

// OrderReplacementEngine keeps resting limit/stop orders close to market
// by cancel-and-recreate when price has drifted, without losing track of
// a fill that lands mid-cancel.
type OrderReplacementEngine struct {
	orders    domain.OrderRepository
	positions domain.PositionRepository
	broker    domain.BrokerGateway
	oracle    domain.PriceOracle
	retry     RetryPolicy
	config    ReplacementConfig
	logger    *zap.Logger
}

func NewOrderReplacementEngine(
	orders domain.OrderRepository,
	positions domain.PositionRepository,
	broker domain.BrokerGateway,
	oracle domain.PriceOracle,
	config ReplacementConfig,
	logger *zap.Logger,
) *OrderReplacementEngine {
	return &OrderReplacementEngine{
		orders:    orders,
		positions: positions,
		broker:    broker,
		oracle:    oracle,
		retry:     DefaultCancelRetryPolicy,
		config:    config,
		logger:    logger,
	}
}

// WithRetryPolicy overrides the broker cancel retry policy.
func (e *OrderReplacementEngine) WithRetryPolicy(p RetryPolicy) *OrderReplacementEngine {
	e.retry = p
	return e
}

// ProcessOpenOrders scans every resting order and reprices the ones that
// have drifted from market. One bad order never aborts the batch; its
// error lands in the result and processing continues.
func (e *OrderReplacementEngine) ProcessOpenOrders(ctx context.Context) (*ReplaceResult, error) {
	result := &ReplaceResult{}
	if !e.config.Enabled {
		return result, nil
	}

	orders, err := e.orders.ListOrdersByStatuses(ctx, domain.OpenOrderStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	now := time.Now()
	for _, order := range orders {
		result.Checked++

		if order.IsProtected() {
			result.Skipped++
			continue
		}
		if order.Type == domain.OrderTypeMarket {
			result.Skipped++
			continue
		}
		if order.Age(now) < time.Duration(e.config.ReplaceAfterSeconds)*time.Second {
			result.Skipped++
			continue
		}

		depth, err := e.ChainDepth(ctx, order)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("order %s: chain depth: %v", order.ID, err))
			continue
		}
		if depth >= e.config.MaxReplacements {
			e.logger.Debug("Replacement chain exhausted",
				zap.String("order_id", order.ID),
				zap.Int("depth", depth))
			result.Skipped++
			continue
		}

		quote, err := e.oracle.GetQuote(ctx, order.Symbol)
		if err != nil || quote == nil {
			e.logger.Warn("No price for symbol, skipping order",
				zap.String("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(err))
			result.Skipped++
			continue
		}

		if !e.ShouldReplace(order, quote.Price) {
			result.Skipped++
			continue
		}

		replaceRes, err := e.ReplaceOrder(ctx, order.ID, quote.Price)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("order %s: %v", order.ID, err))
			continue
		}
		switch replaceRes.Outcome {
		case ReplaceOutcomeFilledDuringCancel:
			result.FilledDuringCancel++
		default:
			result.Replaced++
		}
	}

	return result, nil
}

// ShouldReplace reports whether the order's requested price has drifted
// from market beyond the configured threshold. Exact equality to the
// threshold does not replace; non-positive prices never replace.
func (e *OrderReplacementEngine) ShouldReplace(order *domain.Order, currentPrice float64) bool {
	if order.RequestedPrice <= 0 || currentPrice <= 0 {
		return false
	}
	deviation := currentPrice - order.RequestedPrice
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation/order.RequestedPrice > e.config.PriceDeviationPct
}

// ReplaceOrder cancels the order and recreates it at newPrice. When the
// order fills while the cancel is in flight the original intent is
// already satisfied: the fill is persisted and no new order is placed.
func (e *OrderReplacementEngine) ReplaceOrder(ctx context.Context, orderID string, newPrice float64) (*ReplaceOrderResult, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if order.IsProtected() {
		return nil, fmt.Errorf("order %s has protected tag %s and cannot be replaced", order.ID, order.Tag)
	}

	if e.config.Simulated {
		return e.replaceSimulated(ctx, order, newPrice)
	}
	return e.replaceLive(ctx, order, newPrice)
}

// replaceSimulated cancels locally and immediately fills the new order
// at a synthetic price. Used in paper mode where no broker exists.
func (e *OrderReplacementEngine) replaceSimulated(ctx context.Context, order *domain.Order, newPrice float64) (*ReplaceOrderResult, error) {
	newOrder := e.successorOrder(order, newPrice)
	newOrder.Status = domain.OrderStatusFilled
	newOrder.FilledQuantity = newOrder.RequestedQuantity
	newOrder.FilledPrice = newPrice

	if err := e.orders.SaveOrder(ctx, newOrder); err != nil {
		return nil, fmt.Errorf("failed to save replacement order: %w", err)
	}

	order.Status = domain.OrderStatusCancelled
	order.StatusReason = "replaced"
	order.UpdatedAt = time.Now()
	if err := e.linkReplacement(ctx, order, newOrder.ID); err != nil {
		return nil, err
	}
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to update cancelled order %s: %w", order.ID, err)
	}

	e.logger.Info("Replaced order (simulated)",
		zap.String("old_order_id", order.ID),
		zap.String("new_order_id", newOrder.ID),
		zap.Float64("new_price", newPrice))

	return &ReplaceOrderResult{
		Outcome:    ReplaceOutcomeReplaced,
		OldOrderID: order.ID,
		NewOrderID: newOrder.ID,
	}, nil
}

// replaceLive cancels on the broker with bounded retries, closes the
// cancel/fill verify-race window with one final status fetch, then
// places the successor. A placement failure leaves the old order
// cancelled; there is no automatic rollback of the cancel.
func (e *OrderReplacementEngine) replaceLive(ctx context.Context, order *domain.Order, newPrice float64) (*ReplaceOrderResult, error) {
	var filled *domain.BrokerOrderState

	err := e.retry.Do(ctx, func(attempt int) error {
		cancelErr := e.broker.CancelOrder(ctx, order.BrokerOrderID)
		if cancelErr == nil {
			return nil
		}

		state, stateErr := e.broker.GetOrder(ctx, order.BrokerOrderID)
		if stateErr != nil {
			return fmt.Errorf("cancel attempt %d failed: %v (status check failed: %w)", attempt, cancelErr, stateErr)
		}
		switch state.Status {
		case domain.BrokerStatusFilled:
			// The order filled before we could cancel it. Not an error.
			filled = state
			return nil
		case domain.BrokerStatusCancelled, domain.BrokerStatusRejected:
			return nil
		}
		return fmt.Errorf("cancel attempt %d failed, remote status %s: %w", attempt, state.Status, cancelErr)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", order.ID, err)
	}

	if filled == nil {
		// The cancel was accepted, but the order may have filled an
		// instant before it took effect. Verify once more.
		state, err := e.broker.GetOrder(ctx, order.BrokerOrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify order %s after cancel: %w", order.ID, err)
		}
		switch state.Status {
		case domain.BrokerStatusFilled:
			filled = state
		case domain.BrokerStatusCancelled, domain.BrokerStatusRejected:
		default:
			return nil, fmt.Errorf("order %s in unexpected status %s after cancel", order.ID, state.Status)
		}
	}

	if filled != nil {
		if err := e.persistFill(ctx, order, filled); err != nil {
			return nil, err
		}
		e.logger.Info("Order filled during cancel, no replacement placed",
			zap.String("order_id", order.ID),
			zap.Float64("filled_quantity", filled.FilledQuantity))
		return &ReplaceOrderResult{
			Outcome:    ReplaceOutcomeFilledDuringCancel,
			OldOrderID: order.ID,
		}, nil
	}

	order.Status = domain.OrderStatusCancelled
	order.StatusReason = "replaced"
	order.UpdatedAt = time.Now()
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to update cancelled order %s: %w", order.ID, err)
	}

	instrument, err := e.resolveInstrument(ctx, order)
	if err != nil {
		return nil, err
	}

	newOrder := e.successorOrder(order, newPrice)
	newOrder.Instrument = instrument

	var placed *domain.BrokerOrder
	switch order.Type {
	case domain.OrderTypeStop:
		placed, err = e.broker.PlaceStopOrder(ctx, instrument, order.Side, order.RequestedQuantity, newPrice)
	default:
		placed, err = e.broker.PlaceLimitOrder(ctx, instrument, order.Side, order.RequestedQuantity, newPrice)
	}
	if err != nil {
		// Known gap: the old order is already cancelled at this point.
		return nil, fmt.Errorf("failed to place replacement for order %s: %w", order.ID, err)
	}

	newOrder.BrokerOrderID = placed.ID
	newOrder.Status = domain.OrderStatusOpen
	if err := e.orders.SaveOrder(ctx, newOrder); err != nil {
		return nil, fmt.Errorf("failed to save replacement order: %w", err)
	}
	if err := e.linkReplacement(ctx, order, newOrder.ID); err != nil {
		return nil, err
	}
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to link replacement for order %s: %w", order.ID, err)
	}

	e.logger.Info("Replaced order",
		zap.String("old_order_id", order.ID),
		zap.String("new_order_id", newOrder.ID),
		zap.String("broker_order_id", placed.ID),
		zap.Float64("old_price", order.RequestedPrice),
		zap.Float64("new_price", newPrice))

	return &ReplaceOrderResult{
		Outcome:    ReplaceOutcomeReplaced,
		OldOrderID: order.ID,
		NewOrderID: newOrder.ID,
	}, nil
}

// successorOrder builds the replacement carrying over everything but the
// price from its predecessor.
func (e *OrderReplacementEngine) successorOrder(order *domain.Order, newPrice float64) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ID:                uuid.NewString(),
		Symbol:            order.Symbol,
		Instrument:        order.Instrument,
		Side:              order.Side,
		Type:              order.Type,
		Status:            domain.OrderStatusPending,
		Tag:               order.Tag,
		RequestedQuantity: order.RequestedQuantity,
		RequestedPrice:    newPrice,
		AccountID:         order.AccountID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// resolveInstrument prefers the identifier on the order itself and falls
// back to the position record for the same symbol.
func (e *OrderReplacementEngine) resolveInstrument(ctx context.Context, order *domain.Order) (string, error) {
	if order.Instrument != "" {
		return order.Instrument, nil
	}
	position, err := e.positions.GetPosition(ctx, order.Symbol)
	if err != nil || position == nil || position.Instrument == "" {
		return "", fmt.Errorf("cannot resolve instrument for order %s (symbol %s)", order.ID, order.Symbol)
	}
	return position.Instrument, nil
}

func (e *OrderReplacementEngine) persistFill(ctx context.Context, order *domain.Order, state *domain.BrokerOrderState) error {
	order.Status = domain.OrderStatusFilled
	order.FilledQuantity = state.FilledQuantity
	order.FilledPrice = state.AvgFillPrice()
	order.UpdatedAt = time.Now()
	if err := e.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist fill for order %s: %w", order.ID, err)
	}
	return nil
}

// linkReplacement sets the back-link from the replaced order to its
// successor. The link is write-once and must not close a cycle.
func (e *OrderReplacementEngine) linkReplacement(ctx context.Context, order *domain.Order, newID string) error {
	if order.ReplacedByOrderID != "" && order.ReplacedByOrderID != newID {
		return fmt.Errorf("order %s is already replaced by %s", order.ID, order.ReplacedByOrderID)
	}
	if newID == order.ID {
		return fmt.Errorf("order %s cannot replace itself", order.ID)
	}
	// Follow forward links from the successor; reaching the replaced
	// order again would close a cycle.
	seen := map[string]bool{order.ID: true}
	cursor := newID
	for cursor != "" && !seen[cursor] {
		seen[cursor] = true
		next, err := e.orders.GetOrder(ctx, cursor)
		if err != nil || next == nil {
			break
		}
		if next.ReplacedByOrderID == order.ID {
			return fmt.Errorf("linking order %s to %s would create a replacement cycle", order.ID, newID)
		}
		cursor = next.ReplacedByOrderID
	}
	order.ReplacedByOrderID = newID
	return nil
}

// ChainDepth walks backward through the replacement chain, counting how
// many predecessors this order has. A repeated id terminates the walk so
// corrupted links cannot loop forever.
func (e *OrderReplacementEngine) ChainDepth(ctx context.Context, order *domain.Order) (int, error) {
	depth := 0
	seen := map[string]bool{order.ID: true}
	cursor := order

	for {
		source, err := e.orders.FindReplacementSource(ctx, cursor.ID)
		if err != nil {
			return depth, err
		}
		if source == nil {
			return depth, nil
		}
		if seen[source.ID] {
			e.logger.Warn("Replacement chain contains a cycle, stopping walk",
				zap.String("order_id", order.ID),
				zap.String("repeated_id", source.ID))
			return depth, nil
		}
		seen[source.ID] = true
		depth++
		cursor = source
	}
}
