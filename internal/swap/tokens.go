package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"exitwatch/internal/position"
)

// TokenClient resolves token display metadata from a token registry service.
// Lookups are cached; registry entries are effectively immutable.
type TokenClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string

	cache map[string]position.TokenMetadata
}

type tokenInfoResponse struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// NewTokenClient creates a registry client for the given API base URL.
func NewTokenClient(baseURL string, logger *zap.Logger) *TokenClient {
	return &TokenClient{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.Named("tokens"),
		baseURL:    baseURL,
		cache:      make(map[string]position.TokenMetadata),
	}
}

// TokenMetadata resolves metadata for the given mints. Mints the registry
// does not know are omitted from the result rather than reported as errors;
// freshly launched tokens routinely lag the registry.
func (c *TokenClient) TokenMetadata(ctx context.Context, mints []string) ([]position.TokenMetadata, error) {
	out := make([]position.TokenMetadata, 0, len(mints))
	for _, mint := range mints {
		if meta, ok := c.cache[mint]; ok {
			out = append(out, meta)
			continue
		}
		meta, err := c.lookup(ctx, mint)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Debug("Token registry lookup failed",
				zap.String("mint", mint),
				zap.Error(err))
			continue
		}
		c.cache[mint] = meta
		out = append(out, meta)
	}
	return out, nil
}

func (c *TokenClient) lookup(ctx context.Context, mint string) (position.TokenMetadata, error) {
	endpoint := fmt.Sprintf("%s/token/%s", c.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return position.TokenMetadata{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return position.TokenMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return position.TokenMetadata{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var info tokenInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return position.TokenMetadata{}, fmt.Errorf("failed to decode token info: %w", err)
	}
	if info.Symbol == "" {
		return position.TokenMetadata{}, fmt.Errorf("registry entry for %s has no symbol", mint)
	}

	return position.TokenMetadata{
		TokenMint: mint,
		Symbol:    info.Symbol,
		Decimals:  info.Decimals,
	}, nil
}
