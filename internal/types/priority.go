package types

import "fmt"

type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
	PriorityTurbo  PriorityLevel = "turbo"
)

// FeeOptions describes the compute budget requested when the swap builder
// assembles the transaction. PriorityFee is in micro-lamports per compute unit.
type FeeOptions struct {
	ComputeUnits uint32 `json:"compute_units"`
	PriorityFee  uint64 `json:"priority_fee"`
	// Dynamic asks the builder to derive the fee from recent network
	// conditions instead of the fixed PriorityFee value.
	Dynamic bool `json:"dynamic"`
}

var priorityProfiles = map[PriorityLevel]FeeOptions{
	PriorityLow:    {ComputeUnits: 200_000, PriorityFee: 1_000},
	PriorityMedium: {ComputeUnits: 400_000, PriorityFee: 5_000},
	PriorityHigh:   {ComputeUnits: 800_000, PriorityFee: 10_000},
	PriorityTurbo:  {ComputeUnits: 1_000_000, PriorityFee: 50_000, Dynamic: true},
}

// FeeOptionsForLevel maps a priority level to concrete fee options.
func FeeOptionsForLevel(level PriorityLevel) (FeeOptions, error) {
	opts, ok := priorityProfiles[level]
	if !ok {
		return FeeOptions{}, fmt.Errorf("unknown priority level: %s", level)
	}
	return opts, nil
}

// ExitFeeOptions returns the profile used by the exit pipeline: dynamic fees
// favoring fast inclusion, since a triggered exit is already late by definition.
func ExitFeeOptions() FeeOptions {
	opts := priorityProfiles[PriorityHigh]
	opts.Dynamic = true
	return opts
}
