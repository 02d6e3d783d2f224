package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"exitwatch/internal/types"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultMaxTries       = 3
)

// Client talks to the quote/swap provider over HTTP. The provider is opaque:
// it prices a sell and hands back an unsigned transaction payload; everything
// on-chain stays its problem.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
	maxTries   uint
}

// NewClient creates a provider client for the given API base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:   logger.Named("swap"),
		baseURL:  baseURL,
		maxTries: defaultMaxTries,
	}
}

// Quote requests a sell quote for amount (smallest units) of inputMint against
// outputMint with the given slippage tolerance.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	query := url.Values{}
	query.Set("inputMint", inputMint)
	query.Set("outputMint", outputMint)
	query.Set("amount", strconv.FormatUint(amount, 10))
	query.Set("slippageBps", strconv.Itoa(slippageBps))

	endpoint := fmt.Sprintf("%s/quote?%s", c.baseURL, query.Encode())

	operation := func() (*Quote, error) {
		body, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		var quote Quote
		if err := json.Unmarshal(body, &quote); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode quote response: %w", err))
		}
		quote.Raw = body
		quote.FetchedAt = time.Now()
		return &quote, nil
	}

	quote, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries))
	if err != nil {
		c.logger.Warn("Quote request failed",
			zap.String("input_mint", inputMint),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	c.logger.Debug("Quote received",
		zap.String("input_mint", inputMint),
		zap.Uint64("in_amount", quote.InAmount),
		zap.Uint64("out_amount", quote.OutAmount),
		zap.Float64("price_impact_pct", quote.PriceImpactPct))
	return quote, nil
}

// BuildSwap requests an unsigned transaction payload for the quote. The
// transaction is configured to auto-wrap/unwrap the base asset and, for
// dynamic fee options, to let the provider pick fees favoring fast inclusion.
func (c *Client) BuildSwap(ctx context.Context, quote *Quote, signerAddress string, fees types.FeeOptions) (string, error) {
	if quote == nil || len(quote.Raw) == 0 {
		return "", fmt.Errorf("quote payload is empty")
	}

	reqBody := swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           signerAddress,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}
	if fees.Dynamic {
		reqBody.PrioritizationFeeLamports = "auto"
	} else {
		fee := fees.PriorityFee
		reqBody.ComputeUnitPriceMicroLamports = &fee
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode swap request: %w", err)
	}

	operation := func() (*swapResponse, error) {
		body, err := c.post(ctx, c.baseURL+"/swap", payload)
		if err != nil {
			return nil, err
		}

		var resp swapResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode swap response: %w", err))
		}
		if resp.SwapTransaction == "" {
			return nil, backoff.Permanent(fmt.Errorf("swap response is missing the transaction payload"))
		}
		return &resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries))
	if err != nil {
		c.logger.Warn("Swap build failed",
			zap.String("signer", signerAddress),
			zap.Error(err))
		return "", fmt.Errorf("swap build failed: %w", err)
	}

	return resp.SwapTransaction, nil
}

// Price returns the current price of one whole token in base asset units,
// derived from a probe quote.
func (c *Client) Price(ctx context.Context, mint string, decimals uint8) (float64, error) {
	if decimals == 0 {
		decimals = 6
	}
	probeAmount := uint64(math.Pow10(int(decimals)))

	quote, err := c.Quote(ctx, mint, BaseAssetMint, probeAmount, types.DefaultSlippageBps)
	if err != nil {
		return 0, fmt.Errorf("price probe failed: %w", err)
	}
	return float64(quote.OutAmount) / math.Pow10(BaseAssetDecimals), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do executes the request and classifies failures: 4xx responses are permanent
// (retrying the same request cannot help), everything else is retryable.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, backoff.Permanent(fmt.Errorf("provider rejected request: status %d: %s", resp.StatusCode, truncate(body, 256)))
	default:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
