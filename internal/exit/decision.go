package exit

import (
	"fmt"

	"exitwatch/internal/swap"
)

// Action classifies what the evaluator decided for a position.
type Action string

const (
	ActionHold       Action = "hold"
	ActionTakeProfit Action = "take_profit"
	ActionStopLoss   Action = "stop_loss"
)

// Stage names the pipeline step a failure occurred in.
type Stage string

const (
	StageGuard     Stage = "guard"
	StageLoad      Stage = "load"
	StageQuote     Stage = "quote"
	StageBuild     Stage = "build"
	StageBroadcast Stage = "broadcast"
	StageConfirm   Stage = "confirm"
	StagePersist   Stage = "persist"
)

// Marker is the machine-parseable failure code attached to a decision so a
// later pass, or a signer reconnect, can pick up where the pipeline stopped.
type Marker string

const (
	MarkerPendingSignature Marker = "PENDING_SIGNATURE"
	MarkerPositionNotFound Marker = "POSITION_NOT_FOUND"
	MarkerStoreUnavailable Marker = "STORE_UNAVAILABLE"
	MarkerQuoteUnavailable Marker = "QUOTE_UNAVAILABLE"
	MarkerBuildFailed      Marker = "BUILD_FAILED"
	MarkerSignerRejected   Marker = "SIGNER_REJECTED"
	MarkerBroadcastFailed  Marker = "BROADCAST_FAILED"
	MarkerConfirmTimeout   Marker = "CONFIRM_TIMEOUT"
	MarkerPersistFailed    Marker = "PERSIST_FAILED"
)

// StageError is a structured pipeline failure.
type StageError struct {
	Stage  Stage
	Marker Marker
	cause  error
}

func newStageError(stage Stage, marker Marker, cause error) *StageError {
	return &StageError{Stage: stage, Marker: marker, cause: cause}
}

func (e *StageError) Error() string {
	if e.cause == nil {
		return string(e.Marker)
	}
	return fmt.Sprintf("%s: %v", e.Marker, e.cause)
}

func (e *StageError) Unwrap() error {
	return e.cause
}

// Thresholds holds the user-configured exit triggers, in percent.
type Thresholds struct {
	TakeProfitEnabled bool
	TakeProfitPercent float64
	StopLossEnabled   bool
	StopLossPercent   float64
}

// Decision is the unit of work produced per position per pass. It is mutated
// in place as pipeline stages complete and dropped once the pass summary is
// out, except that triggered-but-unexecuted decisions stay in the monitor's
// pending set until resolved or superseded.
type Decision struct {
	PositionID   string
	TokenMint    string
	TokenSymbol  string
	Action       Action
	CurrentPrice float64
	PnLPercent   float64

	Executed          bool
	TxSignature       string
	Err               *StageError
	AwaitingSignature bool

	// Quote survives a stalled pipeline so a resumed attempt does not have
	// to start quoting from scratch while the quote is still fresh.
	Quote *swap.Quote
}

// Triggered reports whether the decision calls for an exit.
func (d *Decision) Triggered() bool {
	return d.Action != ActionHold
}
