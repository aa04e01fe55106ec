package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

// TradeExecutor turns fired triggers and exit decisions into broker
// orders and durable records. It never decides what to trade; it only
// executes actions that were already declared elsewhere.
type TradeExecutor struct {
	orders    domain.OrderRepository
	positions domain.PositionRepository
	trades    domain.TradeRepository
	broker    domain.BrokerGateway
	logger    *zap.Logger
}

func NewTradeExecutor(
	orders domain.OrderRepository,
	positions domain.PositionRepository,
	trades domain.TradeRepository,
	broker domain.BrokerGateway,
	logger *zap.Logger,
) *TradeExecutor {
	return &TradeExecutor{
		orders:    orders,
		positions: positions,
		trades:    trades,
		broker:    broker,
		logger:    logger,
	}
}

// ExecuteAction places the order a fired conditional order declared and
// records it locally.
func (e *TradeExecutor) ExecuteAction(ctx context.Context, action TriggeredAction) (*domain.Order, error) {
	var (
		placed *domain.BrokerOrder
		err    error
	)
	switch action.Action.Type {
	case domain.OrderTypeMarket:
		placed, err = e.broker.PlaceMarketOrder(ctx, action.Symbol, action.Action.Side, action.Action.Quantity)
	case domain.OrderTypeLimit:
		placed, err = e.broker.PlaceLimitOrder(ctx, action.Symbol, action.Action.Side, action.Action.Quantity, action.Action.LimitPrice)
	default:
		return nil, fmt.Errorf("unsupported action order type: %s", action.Action.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to place order for triggered action %s: %w", action.OrderID, err)
	}

	tag := domain.OrderTagEntry
	if action.Action.Side == domain.SideSell {
		tag = domain.OrderTagExit
	}

	now := time.Now()
	order := &domain.Order{
		ID:                uuid.NewString(),
		Symbol:            action.Symbol,
		Instrument:        action.Symbol,
		Side:              action.Action.Side,
		Type:              action.Action.Type,
		Status:            domain.OrderStatusOpen,
		Tag:               tag,
		RequestedQuantity: action.Action.Quantity,
		RequestedPrice:    action.Action.LimitPrice,
		BrokerOrderID:     placed.ID,
		StatusReason:      "conditional_trigger",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("order %s placed at broker but not recorded: %w", placed.ID, err)
	}

	e.logger.Info("Executed triggered action",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.RequestedQuantity))
	return order, nil
}

// ClosePosition sells the full position at market, journals the trade
// under the given reason and removes the local record.
func (e *TradeExecutor) ClosePosition(ctx context.Context, symbol, reason string) error {
	position, err := e.positions.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", symbol, err)
	}
	if position == nil {
		return fmt.Errorf("no open position for %s", symbol)
	}

	instrument := position.Instrument
	if instrument == "" {
		instrument = position.Symbol
	}
	if _, err := e.broker.PlaceMarketOrder(ctx, instrument, domain.SideSell, position.Shares); err != nil {
		return fmt.Errorf("failed to place closing order for %s: %w", symbol, err)
	}

	exitPrice := position.CurrentPrice
	if exitPrice <= 0 {
		exitPrice = position.EntryPrice
	}
	trade := &domain.Trade{
		Symbol:     position.Symbol,
		Side:       domain.SideSell,
		Quantity:   position.Shares,
		EntryPrice: position.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        (exitPrice - position.EntryPrice) * position.Shares,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		return fmt.Errorf("failed to journal closing trade for %s: %w", symbol, err)
	}
	if err := e.positions.DeletePosition(ctx, position.Symbol); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", symbol, err)
	}

	e.logger.Info("Position closed",
		zap.String("symbol", position.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", trade.PnL))
	return nil
}
