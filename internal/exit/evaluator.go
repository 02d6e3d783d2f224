package exit

import (
	"math"

	"exitwatch/internal/position"
)

// Evaluate classifies a position against the exit thresholds at the given
// price. Pure function: no side effects, no failure modes. Invalid numeric
// input degrades to hold with a zero profit/loss percent.
func Evaluate(pos position.Position, currentPrice float64, th Thresholds) Decision {
	decision := Decision{
		PositionID:   pos.ID,
		TokenMint:    pos.TokenMint,
		TokenSymbol:  pos.TokenSymbol,
		Action:       ActionHold,
		CurrentPrice: currentPrice,
	}

	if !validPrice(currentPrice) || !validPrice(pos.EntryPrice) {
		return decision
	}

	pnlPercent := ((currentPrice - pos.EntryPrice) / pos.EntryPrice) * 100
	decision.PnLPercent = pnlPercent

	// Take-profit wins the degenerate case where contradictory thresholds
	// would fire both in the same pass.
	if th.TakeProfitEnabled && pnlPercent >= th.TakeProfitPercent {
		decision.Action = ActionTakeProfit
		return decision
	}
	if th.StopLossEnabled && pnlPercent <= -th.StopLossPercent {
		decision.Action = ActionStopLoss
		return decision
	}
	return decision
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
