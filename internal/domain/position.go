package domain

import "time"

// Position is a locally tracked open position, one row per symbol. It is
// created on trade entry, mutated by price updates and trailing-stop
// advances, and deleted when closed locally or by reconciliation.
type Position struct {
	Symbol           string
	Instrument       string // broker-side instrument identifier
	Shares           float64
	EntryPrice       float64
	CurrentPrice     float64
	StopLoss         float64
	TrailingStop     float64 // 0 = not set; only ever ratchets toward profit
	TakeProfit       float64
	AIExitConditions []byte // opaque JSON payload, decoded at point of use
	EntryTime        time.Time
}

// EffectiveStop returns the stop level currently in force: the trailing
// stop once one exists, otherwise the original stop-loss.
func (p *Position) EffectiveStop() float64 {
	if p.TrailingStop > 0 {
		return p.TrailingStop
	}
	return p.StopLoss
}

// ProfitRatio returns the unrealized return relative to entry, e.g. 0.04
// for +4%. Zero entry price yields zero.
func (p *Position) ProfitRatio() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// Trade is a closed-trade journal row written when a position is closed,
// locally or by reconciliation against the broker.
type Trade struct {
	ID         int64
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     string
	CreatedAt  time.Time
}
