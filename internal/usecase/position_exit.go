package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitos/crypto_trade_manager/internal/domain"
	"go.uber.org/zap"
)

// ExitConfig controls position exit evaluation. ROITable maps a
// minutes-held threshold to the minimum profit ratio required to exit at
// that age; the largest threshold not exceeding the position's age
// applies.
type ExitConfig struct {
	ROITableEnabled bool            `json:"roi_table_enabled"`
	ROITable        map[int]float64 `json:"roi_table"`
}

// ExitDecisions is the outcome of one evaluation cycle: which symbols to
// close and a single reason per symbol.
type ExitDecisions struct {
	PositionsToClose []string
	ExitReasons      map[string]string
}

// PositionExitEvaluator decides once per cycle which open positions to
// close, applying a fixed precedence so at most one reason is reported
// per position: stop-loss/trailing first, then take-profit, then the
// ROI table, then AI-declared conditions.
type PositionExitEvaluator struct {
	positions domain.PositionRepository
	config    ExitConfig
	logger    *zap.Logger
}

func NewPositionExitEvaluator(positions domain.PositionRepository, config ExitConfig, logger *zap.Logger) *PositionExitEvaluator {
	return &PositionExitEvaluator{
		positions: positions,
		config:    config,
		logger:    logger,
	}
}

// CheckExitConditions evaluates every open position. Positions without a
// current price are skipped entirely.
func (e *PositionExitEvaluator) CheckExitConditions(ctx context.Context) (*ExitDecisions, error) {
	positions, err := e.positions.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	decisions := &ExitDecisions{ExitReasons: make(map[string]string)}
	now := time.Now()

	for _, position := range positions {
		if position.CurrentPrice <= 0 {
			continue
		}
		reason, exit := e.evaluatePosition(position, now)
		if !exit {
			continue
		}
		decisions.PositionsToClose = append(decisions.PositionsToClose, position.Symbol)
		decisions.ExitReasons[position.Symbol] = reason
		e.logger.Info("Position marked for exit",
			zap.String("symbol", position.Symbol),
			zap.String("reason", reason),
			zap.Float64("current_price", position.CurrentPrice))
	}

	return decisions, nil
}

// evaluatePosition applies the exit checks in precedence order; the
// first match wins and short-circuits the rest.
func (e *PositionExitEvaluator) evaluatePosition(position *domain.Position, now time.Time) (string, bool) {
	if stop := position.EffectiveStop(); stop > 0 && position.CurrentPrice <= stop {
		return "Stop-loss triggered", true
	}

	if position.TakeProfit > 0 && position.CurrentPrice >= position.TakeProfit {
		return "Take-profit triggered", true
	}

	if e.config.ROITableEnabled {
		if ok := e.roiTableExit(position, now); ok {
			return "roi_table", true
		}
	}

	return e.aiConditionsExit(position, now)
}

// roiTableExit selects the largest threshold not exceeding the
// position's age in minutes and exits when the current profit ratio
// meets that threshold's minimum.
func (e *PositionExitEvaluator) roiTableExit(position *domain.Position, now time.Time) bool {
	if len(e.config.ROITable) == 0 {
		return false
	}

	elapsed := int(now.Sub(position.EntryTime).Minutes())

	thresholds := make([]int, 0, len(e.config.ROITable))
	for minutes := range e.config.ROITable {
		thresholds = append(thresholds, minutes)
	}
	sort.Ints(thresholds)

	applicable := -1
	for _, minutes := range thresholds {
		if minutes <= elapsed {
			applicable = minutes
		}
	}
	if applicable < 0 {
		return false
	}

	return position.ProfitRatio() >= e.config.ROITable[applicable]
}

// aiConditionsExit checks the opaque AI-declared payload: a maximum hold
// duration in days and an explicit price target. A malformed payload is
// skipped with a warning, never fatal.
func (e *PositionExitEvaluator) aiConditionsExit(position *domain.Position, now time.Time) (string, bool) {
	conditions, err := domain.DecodeExitConditions(position.AIExitConditions)
	if err != nil {
		e.logger.Warn("Skipping malformed AI exit conditions",
			zap.String("symbol", position.Symbol),
			zap.Error(err))
		return "", false
	}

	if conditions.MaxHoldDays > 0 {
		held := now.Sub(position.EntryTime)
		if held >= time.Duration(conditions.MaxHoldDays)*24*time.Hour {
			return "ai_max_hold_days", true
		}
	}
	if conditions.PriceTarget > 0 && position.CurrentPrice >= conditions.PriceTarget {
		return "ai_price_target", true
	}
	return "", false
}

// UpdateTrailingStops advances the trailing stop of every profitable
// position, preserving the original stop distance from entry. The stop
// only ever moves up: a new level is applied only when strictly higher
// than the effective stop in force.
func (e *PositionExitEvaluator) UpdateTrailingStops(ctx context.Context) error {
	positions, err := e.positions.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	for _, position := range positions {
		if position.CurrentPrice <= 0 || position.StopLoss <= 0 || position.EntryPrice <= 0 {
			continue
		}
		if position.CurrentPrice <= position.EntryPrice {
			continue
		}

		stopDistancePct := (position.EntryPrice - position.StopLoss) / position.EntryPrice
		newStop := position.CurrentPrice * (1 - stopDistancePct)
		if newStop <= position.EffectiveStop() {
			continue
		}

		if err := e.positions.UpdateTrailingStop(ctx, position.Symbol, newStop); err != nil {
			e.logger.Error("Failed to update trailing stop",
				zap.String("symbol", position.Symbol),
				zap.Error(err))
			continue
		}
		e.logger.Info("Trailing stop advanced",
			zap.String("symbol", position.Symbol),
			zap.Float64("old_stop", position.EffectiveStop()),
			zap.Float64("new_stop", newStop))
	}

	return nil
}
