package types

import "math"

// SlippageType selects how the slippage tolerance for a sell quote is derived.
type SlippageType string

const (
	// SlippageFixed uses a fixed number of basis points.
	SlippageFixed SlippageType = "fixed"
	// SlippagePercent converts a percent tolerance to basis points.
	SlippagePercent SlippageType = "percent"
	// SlippageAuto falls back to the default tolerance.
	SlippageAuto SlippageType = "auto"
)

// SlippageConfig configures the tolerance passed to the quote provider.
type SlippageConfig struct {
	Type SlippageType `json:"type" mapstructure:"type"`
	// Value holds basis points for SlippageFixed, a percentage for
	// SlippagePercent, and is ignored for SlippageAuto.
	Value float64 `json:"value" mapstructure:"value"`
}

// DefaultSlippageBps is deliberately generous: exits on volatile small-cap
// tokens fail more often from a tight tolerance than they lose from a loose one.
const DefaultSlippageBps = 500

// Bps resolves the configured tolerance to basis points.
func (c SlippageConfig) Bps() int {
	switch c.Type {
	case SlippageFixed:
		return int(c.Value)
	case SlippagePercent:
		return int(math.Round(c.Value * 100))
	default:
		return DefaultSlippageBps
	}
}
