package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

// ReconcilerConfig controls reconciliation against the broker snapshot.
type ReconcilerConfig struct {
	QuantityEpsilon float64 `json:"quantity_epsilon"`
}

// PositionReconciler detects drift between local position records and
// the broker's authoritative portfolio. Positions the broker no longer
// holds are closed locally; everything else is logged, not corrected.
type PositionReconciler struct {
	positions domain.PositionRepository
	trades    domain.TradeRepository
	broker    domain.BrokerGateway
	config    ReconcilerConfig
	logger    *zap.Logger
}

func NewPositionReconciler(
	positions domain.PositionRepository,
	trades domain.TradeRepository,
	broker domain.BrokerGateway,
	config ReconcilerConfig,
	logger *zap.Logger,
) *PositionReconciler {
	return &PositionReconciler{
		positions: positions,
		trades:    trades,
		broker:    broker,
		config:    config,
		logger:    logger,
	}
}

// SyncWithBroker aligns local position records with the broker's
// portfolio snapshot.
func (r *PositionReconciler) SyncWithBroker(ctx context.Context) error {
	portfolio, err := r.broker.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch portfolio: %w", err)
	}

	remote := make(map[string]domain.BrokerPosition)
	for _, p := range portfolio {
		key := p.MatchKey()
		if key == "" {
			continue
		}
		remote[key] = p
	}

	local, err := r.positions.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list local positions: %w", err)
	}

	matched := make(map[string]bool)
	for _, position := range local {
		key := position.Instrument
		if key == "" {
			key = position.Symbol
		}

		broker, ok := remote[key]
		if !ok {
			if err := r.closeExternally(ctx, position); err != nil {
				r.logger.Error("Failed to close externally-closed position",
					zap.String("symbol", position.Symbol),
					zap.Error(err))
			}
			continue
		}
		matched[key] = true

		epsilon := r.config.QuantityEpsilon
		if epsilon <= 0 {
			epsilon = 1e-6
		}
		if math.Abs(broker.Quantity-position.Shares) > epsilon {
			r.logger.Warn("Position quantity mismatch with broker",
				zap.String("symbol", position.Symbol),
				zap.Float64("local_shares", position.Shares),
				zap.Float64("broker_quantity", broker.Quantity))
		}
	}

	for key, p := range remote {
		if !matched[key] {
			r.logger.Info("Unmanaged position at broker",
				zap.String("ticker", key),
				zap.Float64("quantity", p.Quantity))
		}
	}

	return nil
}

// closeExternally records a synthetic closing trade at the last known
// local price (entry price when no price was ever seen) and removes the
// local position row.
func (r *PositionReconciler) closeExternally(ctx context.Context, position *domain.Position) error {
	exitPrice := position.CurrentPrice
	if exitPrice <= 0 {
		exitPrice = position.EntryPrice
	}
	pnl := (exitPrice - position.EntryPrice) * position.Shares

	trade := &domain.Trade{
		Symbol:     position.Symbol,
		Side:       domain.SideSell,
		Quantity:   position.Shares,
		EntryPrice: position.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     "closed_externally",
		CreatedAt:  time.Now(),
	}
	if err := r.trades.SaveTrade(ctx, trade); err != nil {
		return fmt.Errorf("failed to save closing trade for %s: %w", position.Symbol, err)
	}
	if err := r.positions.DeletePosition(ctx, position.Symbol); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", position.Symbol, err)
	}

	r.logger.Info("Position closed externally, local record removed",
		zap.String("symbol", position.Symbol),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl))
	return nil
}
