package exit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"exitwatch/internal/events"
	"exitwatch/internal/position"
	"exitwatch/internal/storage"
	"exitwatch/internal/swap"
	"exitwatch/internal/types"
	"exitwatch/internal/wallet"
)

// Quoter prices a sell of a token against the base asset.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*swap.Quote, error)
}

// Builder turns a quote into an unsigned transaction payload.
type Builder interface {
	BuildSwap(ctx context.Context, quote *swap.Quote, signerAddress string, fees types.FeeOptions) (string, error)
}

// PipelineConfig tunes the exit pipeline.
type PipelineConfig struct {
	Slippage types.SlippageConfig
	Fees     types.FeeOptions
	// QuoteTTL bounds how long a quote attached to a stalled decision may be
	// reused before the pipeline re-quotes.
	QuoteTTL time.Duration
}

// DefaultQuoteTTL is the default reuse window for an attached quote.
const DefaultQuoteTTL = 30 * time.Second

// Pipeline orchestrates quote, build, sign, broadcast, confirm and persist
// for a single position's exit. Persist is the only state-mutating commit
// point; everything before it can fail without touching the store.
type Pipeline struct {
	store     storage.Store
	quoter    Quoter
	builder   Builder
	signer    wallet.Signer
	confirmer Confirmer
	bus       *events.Bus
	logger    *zap.Logger
	config    PipelineConfig
}

// Confirmer verifies settlement of a broadcast transaction signature.
type Confirmer interface {
	Confirm(ctx context.Context, signature solana.Signature) (bool, error)
}

// NewPipeline creates an exit pipeline.
func NewPipeline(store storage.Store, quoter Quoter, builder Builder, signer wallet.Signer,
	confirmer Confirmer, bus *events.Bus, logger *zap.Logger, config PipelineConfig) *Pipeline {
	if config.QuoteTTL <= 0 {
		config.QuoteTTL = DefaultQuoteTTL
	}
	if config.Fees == (types.FeeOptions{}) {
		config.Fees = types.ExitFeeOptions()
	}
	return &Pipeline{
		store:     store,
		quoter:    quoter,
		builder:   builder,
		signer:    signer,
		confirmer: confirmer,
		bus:       bus,
		logger:    logger.Named("pipeline"),
		config:    config,
	}
}

// ExecuteExit drives one decision through the pipeline, mutating it in place.
// It never returns an error: every failure is converted to a structured
// StageError on the decision, because the monitor's pass boundary must stay
// exception-free.
func (p *Pipeline) ExecuteExit(ctx context.Context, d *Decision) {
	if !d.Triggered() {
		return
	}

	log := p.logger.With(
		zap.String("position_id", d.PositionID),
		zap.String("token", d.TokenMint),
		zap.String("action", string(d.Action)))

	// Stage 1: signer guard. The decision is parked, not dropped.
	if !p.signer.Available() {
		d.AwaitingSignature = true
		d.Err = newStageError(StageGuard, MarkerPendingSignature, wallet.ErrUnavailable)
		log.Info("Exit parked awaiting signature")
		p.publish(events.ExitPendingSignatureEvent{
			BaseEvent:   events.NewBase(events.ExitPendingSignature),
			PositionID:  d.PositionID,
			TokenSymbol: d.TokenSymbol,
			Action:      string(d.Action),
		})
		return
	}
	d.AwaitingSignature = false

	// Stage 2: re-fetch the authoritative record. A vanished position means
	// another pass already resolved it; discard silently.
	pos, err := p.store.GetPosition(ctx, d.PositionID)
	if err != nil {
		if errors.Is(err, storage.ErrPositionNotFound) {
			d.Err = newStageError(StageLoad, MarkerPositionNotFound, err)
			log.Debug("Position vanished mid-pipeline, discarding decision")
			return
		}
		d.Err = newStageError(StageLoad, MarkerStoreUnavailable, err)
		p.reportFailure(d, log)
		return
	}
	if !pos.IsOpen() {
		d.Err = newStageError(StageLoad, MarkerPositionNotFound, fmt.Errorf("position %s already closed", d.PositionID))
		log.Debug("Position already closed, discarding decision")
		return
	}

	// Stage 3: quote the full held quantity against the base asset. A fresh
	// quote attached by an earlier stalled attempt is reused.
	quote := d.Quote
	if quote == nil || quote.Age() > p.config.QuoteTTL {
		rawAmount := rawTokenAmount(pos.Amount, pos.Decimals)
		quote, err = p.quoter.Quote(ctx, pos.TokenMint, swap.BaseAssetMint, rawAmount, p.config.Slippage.Bps())
		if err != nil {
			d.Err = newStageError(StageQuote, MarkerQuoteUnavailable, err)
			p.reportFailure(d, log)
			return
		}
		d.Quote = quote
	}

	// Stage 4: build the unsigned transaction.
	payload, err := p.builder.BuildSwap(ctx, quote, p.signer.Address(), p.config.Fees)
	if err != nil {
		d.Err = newStageError(StageBuild, MarkerBuildFailed, err)
		p.reportFailure(d, log)
		return
	}

	// Stage 5: sign and broadcast.
	sig, err := p.signer.SignAndSend(ctx, payload)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrRejected):
			d.Err = newStageError(StageBroadcast, MarkerSignerRejected, err)
		case errors.Is(err, wallet.ErrUnavailable):
			// The signer dropped between the guard and here.
			d.AwaitingSignature = true
			d.Err = newStageError(StageBroadcast, MarkerPendingSignature, err)
		default:
			d.Err = newStageError(StageBroadcast, MarkerBroadcastFailed, err)
		}
		p.reportFailure(d, log)
		return
	}
	d.TxSignature = sig.String()
	d.Executed = true

	// Stage 6: confirm. A failure here does NOT unwind the close: the
	// transaction is out, and losing track of funds-in-flight is worse than
	// over-reporting a close.
	confirmed, confirmErr := p.confirmer.Confirm(ctx, sig)
	if confirmErr != nil {
		log.Warn("Confirmation did not settle in time",
			zap.String("signature", d.TxSignature),
			zap.Error(confirmErr))
	}

	// Stage 7: persist the closure. Attempted even when confirmation failed.
	exitPrice := realizedExitPrice(quote, pos, d.CurrentPrice)
	pnlPercent := pos.PnLPercent(exitPrice)
	patch := position.ClosePatch(exitReason(d.Action), exitPrice, d.TxSignature, pnlPercent)
	if err := p.store.UpdatePosition(ctx, d.PositionID, patch); err != nil {
		d.Err = newStageError(StagePersist, MarkerPersistFailed, err)
		log.Error("Failed to persist closed position; sell was broadcast",
			zap.String("signature", d.TxSignature),
			zap.Error(err))
	}
	d.PnLPercent = pnlPercent
	d.CurrentPrice = exitPrice

	// Stage 8: notify.
	if !confirmed {
		if d.Err == nil {
			d.Err = newStageError(StageConfirm, MarkerConfirmTimeout, confirmErr)
		}
		p.publish(events.ExitUnconfirmedEvent{
			BaseEvent:   events.NewBase(events.ExitUnconfirmed),
			PositionID:  d.PositionID,
			TokenSymbol: d.TokenSymbol,
			TxSignature: d.TxSignature,
		})
	}
	p.publish(events.ExitExecutedEvent{
		BaseEvent:   events.NewBase(events.ExitExecuted),
		PositionID:  d.PositionID,
		TokenMint:   d.TokenMint,
		TokenSymbol: d.TokenSymbol,
		Action:      string(d.Action),
		ExitPrice:   exitPrice,
		PnLPercent:  pnlPercent,
		TxSignature: d.TxSignature,
		Confirmed:   confirmed,
	})

	log.Info("Exit executed",
		zap.String("signature", d.TxSignature),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl_percent", pnlPercent),
		zap.Bool("confirmed", confirmed))
}

func (p *Pipeline) reportFailure(d *Decision, log *zap.Logger) {
	log.Warn("Exit attempt failed",
		zap.String("stage", string(d.Err.Stage)),
		zap.String("marker", string(d.Err.Marker)),
		zap.Error(d.Err))
	p.publish(events.ExitFailedEvent{
		BaseEvent:   events.NewBase(events.ExitFailed),
		PositionID:  d.PositionID,
		TokenMint:   d.TokenMint,
		TokenSymbol: d.TokenSymbol,
		Action:      string(d.Action),
		Stage:       string(d.Err.Stage),
		Reason:      d.Err.Error(),
	})
}

func (p *Pipeline) publish(event events.Event) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(event)
}

func exitReason(action Action) position.ExitReason {
	if action == ActionStopLoss {
		return position.ExitReasonStopLoss
	}
	return position.ExitReasonTakeProfit
}

func rawTokenAmount(amount float64, decimals uint8) uint64 {
	if decimals == 0 {
		decimals = 6
	}
	return uint64(math.Floor(amount * math.Pow10(int(decimals))))
}

// realizedExitPrice derives the per-token price actually offered by the
// quote, falling back to the evaluation price when that cannot be computed.
func realizedExitPrice(quote *swap.Quote, pos *position.Position, fallback float64) float64 {
	if quote == nil || pos.Amount <= 0 || quote.OutAmount == 0 {
		return fallback
	}
	return float64(quote.OutAmount) / math.Pow10(swap.BaseAssetDecimals) / pos.Amount
}
