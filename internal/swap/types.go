package swap

import (
	"encoding/json"
	"time"
)

// BaseAssetMint is the wrapped SOL mint, the asset every exit sells into.
const BaseAssetMint = "So11111111111111111111111111111111111111112"

// BaseAssetDecimals is the decimal count of the base asset.
const BaseAssetDecimals = 9

// Quote is a provider's priced conversion offer between two assets at a point
// in time. Raw keeps the provider's untouched response because the swap build
// endpoint requires it round-tripped verbatim.
type Quote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       uint64          `json:"inAmount,string"`
	OutAmount      uint64          `json:"outAmount,string"`
	PriceImpactPct float64         `json:"priceImpactPct,string"`
	SlippageBps    int             `json:"slippageBps"`
	Raw            json.RawMessage `json:"-"`
	FetchedAt      time.Time       `json:"-"`
}

// Age returns how long ago the quote was fetched.
func (q *Quote) Age() time.Duration {
	return time.Since(q.FetchedAt)
}

// swapRequest is the body posted to the swap build endpoint.
type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
	ComputeUnitPriceMicroLamports *uint64         `json:"computeUnitPriceMicroLamports,omitempty"`
	PrioritizationFeeLamports     string          `json:"prioritizationFeeLamports,omitempty"`
}

// swapResponse carries the unsigned transaction payload.
type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}
