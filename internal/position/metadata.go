package position

// Placeholder values written by the ingest side before token metadata has been
// resolved. Enrichment may only ever overwrite these.
const (
	PlaceholderSymbol = "UNKNOWN"
)

// TokenMetadata is the enrichment record fetched from an external metadata
// source, keyed by mint address.
type TokenMetadata struct {
	TokenMint string
	Symbol    string
	Decimals  uint8
}

// MergeMetadata reconciles a snapshot of positions with externally fetched
// token metadata. It is a pure merge: only fields still holding placeholder
// sentinels are overwritten, so a failed or partial metadata fetch never
// degrades data that is already good. The input slice is not modified.
func MergeMetadata(positions []Position, meta []TokenMetadata) []Position {
	byMint := make(map[string]TokenMetadata, len(meta))
	for _, m := range meta {
		if m.TokenMint != "" {
			byMint[m.TokenMint] = m
		}
	}

	merged := make([]Position, len(positions))
	copy(merged, positions)

	for i := range merged {
		m, ok := byMint[merged[i].TokenMint]
		if !ok {
			continue
		}
		if isPlaceholderSymbol(merged[i].TokenSymbol) && m.Symbol != "" {
			merged[i].TokenSymbol = m.Symbol
		}
		if merged[i].Decimals == 0 && m.Decimals > 0 {
			merged[i].Decimals = m.Decimals
		}
	}
	return merged
}

func isPlaceholderSymbol(symbol string) bool {
	return symbol == "" || symbol == PlaceholderSymbol
}
