package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

// ConditionalConfig controls the conditional/OCO order feature.
type ConditionalConfig struct {
	Enabled   bool `json:"enabled"`
	MaxActive int  `json:"max_active"`
}

// CreateConditionalOrderParams describes a new conditional order.
type CreateConditionalOrderParams struct {
	Symbol           string
	TriggerType      domain.TriggerType
	TriggerCondition domain.TriggerCondition
	Action           domain.OrderAction
	ExpiresAt        time.Time
}

// TriggeredAction is a fired conditional order handed back to the caller
// for execution.
type TriggeredAction struct {
	OrderID     string
	Symbol      string
	Action      domain.OrderAction
	Price       float64 // price observed at trigger time, 0 for time triggers
	TriggeredAt time.Time
}

// ConditionalOrderEngine evaluates price and time triggers, including
// one-cancels-other pairs, independently of order repricing.
type ConditionalOrderEngine struct {
	repo   domain.ConditionalOrderRepository
	config ConditionalConfig
	logger *zap.Logger
}

func NewConditionalOrderEngine(repo domain.ConditionalOrderRepository, config ConditionalConfig, logger *zap.Logger) *ConditionalOrderEngine {
	return &ConditionalOrderEngine{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// CreateOrder validates and stores a single conditional order.
func (e *ConditionalOrderEngine) CreateOrder(ctx context.Context, params CreateConditionalOrderParams) (*domain.ConditionalOrder, error) {
	if !e.config.Enabled {
		return nil, fmt.Errorf("conditional orders are disabled")
	}
	if err := e.checkCapacity(ctx, 1); err != nil {
		return nil, err
	}
	if !params.ExpiresAt.IsZero() && params.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("expiry %s is already in the past", params.ExpiresAt.Format(time.RFC3339))
	}

	order, err := e.buildOrder(params)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SaveConditionalOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save conditional order: %w", err)
	}

	e.logger.Info("Created conditional order",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("trigger_type", string(order.TriggerType)))
	return order, nil
}

// CreateOCOPair stores two conditional orders under a shared group id so
// that triggering either cancels the other.
func (e *ConditionalOrderEngine) CreateOCOPair(ctx context.Context, first, second CreateConditionalOrderParams) (*domain.ConditionalOrder, *domain.ConditionalOrder, error) {
	if !e.config.Enabled {
		return nil, nil, fmt.Errorf("conditional orders are disabled")
	}
	if first.Symbol != second.Symbol {
		return nil, nil, fmt.Errorf("OCO legs must share a symbol, got %s and %s", first.Symbol, second.Symbol)
	}
	if err := e.checkCapacity(ctx, 2); err != nil {
		return nil, nil, err
	}

	leg1, err := e.buildOrder(first)
	if err != nil {
		return nil, nil, err
	}
	leg2, err := e.buildOrder(second)
	if err != nil {
		return nil, nil, err
	}

	groupID := uuid.NewString()
	leg1.OCOGroupID = groupID
	leg2.OCOGroupID = groupID
	leg2.LinkedOrderID = leg1.ID

	if err := e.repo.SaveConditionalOrder(ctx, leg1); err != nil {
		return nil, nil, fmt.Errorf("failed to save first OCO leg: %w", err)
	}
	if err := e.repo.SaveConditionalOrder(ctx, leg2); err != nil {
		return nil, nil, fmt.Errorf("failed to save second OCO leg: %w", err)
	}

	e.logger.Info("Created OCO pair",
		zap.String("group_id", groupID),
		zap.String("symbol", first.Symbol),
		zap.String("leg1_id", leg1.ID),
		zap.String("leg2_id", leg2.ID))
	return leg1, leg2, nil
}

// CheckTriggers evaluates every pending order against the supplied price
// snapshot and returns the actions that fired. Indicator triggers are
// not evaluated here; they stay pending for the scoring subsystem.
func (e *ConditionalOrderEngine) CheckTriggers(ctx context.Context, prices map[string]float64) ([]TriggeredAction, error) {
	if !e.config.Enabled {
		return nil, nil
	}

	pending, err := e.repo.ListConditionalOrdersByStatus(ctx, domain.ConditionalStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conditional orders: %w", err)
	}

	now := time.Now()
	var actions []TriggeredAction
	firedGroups := make(map[string]bool)

	for _, order := range pending {
		if order.OCOGroupID != "" && firedGroups[order.OCOGroupID] {
			// A sibling fired earlier in this batch and cancelled this leg.
			continue
		}
		fired, price, err := e.evaluate(order, prices, now)
		if err != nil {
			e.logger.Warn("Skipping conditional order with bad trigger payload",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		if !fired {
			continue
		}

		order.TriggeredAt = now
		if err := e.repo.MarkTriggeredAndCancelSiblings(ctx, order); err != nil {
			if errors.Is(err, domain.ErrNotPending) {
				e.logger.Debug("Conditional order no longer pending, not emitting",
					zap.String("order_id", order.ID))
				continue
			}
			e.logger.Error("Failed to mark conditional order triggered",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		if order.OCOGroupID != "" {
			firedGroups[order.OCOGroupID] = true
			e.logger.Info("OCO leg triggered, siblings cancelled",
				zap.String("order_id", order.ID),
				zap.String("group_id", order.OCOGroupID))
		}

		action, err := domain.DecodeOrderAction(order.Action)
		if err != nil {
			e.logger.Warn("Triggered order has malformed action payload, not emitting",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}

		actions = append(actions, TriggeredAction{
			OrderID:     order.ID,
			Symbol:      order.Symbol,
			Action:      action,
			Price:       price,
			TriggeredAt: now,
		})
	}

	return actions, nil
}

// ExpireOldOrders marks pending orders whose expiry has passed and
// returns how many it expired.
func (e *ConditionalOrderEngine) ExpireOldOrders(ctx context.Context) (int, error) {
	pending, err := e.repo.ListConditionalOrdersByStatus(ctx, domain.ConditionalStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending conditional orders: %w", err)
	}

	now := time.Now()
	expired := 0
	for _, order := range pending {
		if order.ExpiresAt.IsZero() || order.ExpiresAt.After(now) {
			continue
		}
		if err := e.repo.UpdateConditionalOrderStatus(ctx, order.ID, domain.ConditionalStatusExpired); err != nil {
			e.logger.Error("Failed to expire conditional order",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		expired++
	}

	if expired > 0 {
		e.logger.Info("Expired conditional orders", zap.Int("count", expired))
	}
	return expired, nil
}

// CancelOrder cancels a single pending order. Cancelling an order in any
// other status is an error.
func (e *ConditionalOrderEngine) CancelOrder(ctx context.Context, id string) error {
	order, err := e.repo.GetConditionalOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conditional order %s: %w", id, err)
	}
	if order.Status != domain.ConditionalStatusPending {
		return fmt.Errorf("conditional order %s is %s, only pending orders can be cancelled", id, order.Status)
	}
	if err := e.repo.UpdateConditionalOrderStatus(ctx, id, domain.ConditionalStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel conditional order %s: %w", id, err)
	}
	e.logger.Info("Cancelled conditional order", zap.String("order_id", id))
	return nil
}

// CancelAllForSymbol cancels every pending order on the symbol and
// returns how many were cancelled.
func (e *ConditionalOrderEngine) CancelAllForSymbol(ctx context.Context, symbol string) (int, error) {
	pending, err := e.repo.ListConditionalOrdersBySymbol(ctx, symbol, domain.ConditionalStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list conditional orders for %s: %w", symbol, err)
	}

	cancelled := 0
	for _, order := range pending {
		if err := e.CancelOrder(ctx, order.ID); err != nil {
			e.logger.Error("Failed to cancel conditional order",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func (e *ConditionalOrderEngine) checkCapacity(ctx context.Context, adding int) error {
	active, err := e.repo.CountActiveConditionalOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to count active conditional orders: %w", err)
	}
	if active+adding > e.config.MaxActive {
		return fmt.Errorf("conditional order limit reached (%d active, max %d)", active, e.config.MaxActive)
	}
	return nil
}

func (e *ConditionalOrderEngine) buildOrder(params CreateConditionalOrderParams) (*domain.ConditionalOrder, error) {
	condition, err := domain.EncodeTriggerCondition(params.TriggerType, params.TriggerCondition)
	if err != nil {
		return nil, err
	}
	action, err := domain.EncodeOrderAction(params.Action)
	if err != nil {
		return nil, err
	}
	// Run the trigger-time decode checks up front so a bad action is
	// rejected at creation, not silently dropped when it fires.
	if _, err := domain.DecodeOrderAction(action); err != nil {
		return nil, err
	}
	return &domain.ConditionalOrder{
		ID:               uuid.NewString(),
		Symbol:           params.Symbol,
		TriggerType:      params.TriggerType,
		TriggerCondition: condition,
		Action:           action,
		Status:           domain.ConditionalStatusPending,
		ExpiresAt:        params.ExpiresAt,
		CreatedAt:        time.Now(),
	}, nil
}

// evaluate decides whether the order fires against the price snapshot.
// It returns the observed price for price triggers.
func (e *ConditionalOrderEngine) evaluate(order *domain.ConditionalOrder, prices map[string]float64, now time.Time) (bool, float64, error) {
	condition, err := domain.DecodeTriggerCondition(order.TriggerType, order.TriggerCondition)
	if err != nil {
		return false, 0, err
	}

	switch order.TriggerType {
	case domain.TriggerPriceAbove:
		price, ok := prices[order.Symbol]
		if !ok {
			return false, 0, nil
		}
		return price >= condition.Price.Price, price, nil
	case domain.TriggerPriceBelow:
		price, ok := prices[order.Symbol]
		if !ok {
			return false, 0, nil
		}
		return price <= condition.Price.Price, price, nil
	case domain.TriggerTime:
		return !now.Before(condition.Time.At), 0, nil
	case domain.TriggerIndicator:
		e.logger.Debug("Indicator trigger left for scoring subsystem",
			zap.String("order_id", order.ID),
			zap.String("indicator", condition.Indicator.Name))
		return false, 0, nil
	}
	return false, 0, fmt.Errorf("unknown trigger type: %s", order.TriggerType)
}
