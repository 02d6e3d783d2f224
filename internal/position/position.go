package position

import "time"

// Status is the lifecycle state of a position. A position moves from open to
// closed exactly once and is never re-opened.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonManual     ExitReason = "manual"
)

// Position is a user's trade against a specific token. The store owns the
// authoritative record; the monitor only ever works on a per-pass snapshot.
type Position struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TokenMint    string    `json:"token_mint"`
	TokenSymbol  string    `json:"token_symbol"`
	Decimals     uint8     `json:"decimals"`
	Amount       float64   `json:"amount"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	Status       Status    `json:"status"`
	OpenedAt     time.Time `json:"opened_at"`

	// Exit metadata, populated only at closure.
	ExitReason        ExitReason `json:"exit_reason,omitempty"`
	ExitPrice         float64    `json:"exit_price,omitempty"`
	ExitTxSignature   string     `json:"exit_tx_signature,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	ProfitLossPercent float64    `json:"profit_loss_percent,omitempty"`
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PnLPercent computes the unrealized profit/loss percent at the given price.
// A non-positive entry price yields 0.
func (p *Position) PnLPercent(currentPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return ((currentPrice - p.EntryPrice) / p.EntryPrice) * 100
}

// ExitPatch is the only shape of update the store accepts for a closing
// position. Fields outside this set are never mutated by the monitor.
type ExitPatch struct {
	Status            Status
	ExitReason        ExitReason
	ExitPrice         float64
	ExitTxSignature   string
	ClosedAt          time.Time
	ProfitLossPercent float64
}

// ClosePatch builds the patch that marks a position closed.
func ClosePatch(reason ExitReason, exitPrice float64, txSignature string, pnlPercent float64) ExitPatch {
	return ExitPatch{
		Status:            StatusClosed,
		ExitReason:        reason,
		ExitPrice:         exitPrice,
		ExitTxSignature:   txSignature,
		ClosedAt:          time.Now().UTC(),
		ProfitLossPercent: pnlPercent,
	}
}
