package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
)

// ErrNotConfigured means the chain has no explorer API configured
var ErrNotConfigured = errors.New("no explorer configured for chain")

// ErrNoActivity means the explorer knows the contract but found no
// transactions for it
var ErrNoActivity = errors.New("no activity found for contract")

// Client queries Etherscan-compatible explorer APIs for a contract's
// earliest transaction. It is a fast path only; the deployment locator
// falls back to binary search when a chain has no explorer.
type Client struct {
	client *retryablehttp.Client
	cfg    config.ExplorerConfig
	logger *zap.Logger
}

// NewClient creates an explorer lookup client
func NewClient(cfg config.ExplorerConfig, logger *zap.Logger) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

type txListResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		BlockNumber string `json:"blockNumber"`
	} `json:"result"`
}

// FindFirstActivity returns the block number of the contract's earliest
// known transaction on the chain
func (c *Client) FindFirstActivity(ctx context.Context, chain, contractAddress string) (int64, error) {
	base, ok := c.cfg.URLs[chain]
	if !ok || base == "" {
		return 0, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", contractAddress)
	params.Set("page", "1")
	params.Set("offset", "1")
	params.Set("sort", "asc")
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build explorer request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var decoded txListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("failed to decode explorer response: %w", err)
	}

	if len(decoded.Result) == 0 {
		return 0, ErrNoActivity
	}

	block, err := strconv.ParseInt(decoded.Result[0].BlockNumber, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("explorer returned invalid block number %q: %w", decoded.Result[0].BlockNumber, err)
	}

	c.logger.Debug("Explorer located first activity",
		zap.String("chain", chain),
		zap.String("contract", contractAddress),
		zap.Int64("block", block),
	)

	return block, nil
}
