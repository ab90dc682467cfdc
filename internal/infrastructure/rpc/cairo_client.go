package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// Starknet JSON-RPC error codes
const (
	cairoErrContractNotFound = 20
	cairoErrBlockNotFound    = 24
)

// cairoEventPageSize bounds one starknet_getEvents page
const cairoEventPageSize = 1000

// Ensure CairoClient implements ChainClient
var _ ChainClient = (*CairoClient)(nil)

// CairoClient serves Cairo-family chains over raw JSON-RPC. There is no
// ethclient equivalent here, so requests go through a retryable HTTP
// client directly.
type CairoClient struct {
	client *retryablehttp.Client
	chain  entities.Chain
	url    string
	logger *zap.Logger
}

// NewCairoClient creates a client for one Cairo endpoint
func NewCairoClient(chain entities.Chain, url string, cfg config.ChainsConfig, logger *zap.Logger) (*CairoClient, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &CairoClient{
		client: client,
		chain:  chain,
		url:    url,
		logger: logger,
	}, nil
}

// Chain returns the chain name this client serves
func (c *CairoClient) Chain() string {
	return c.chain.Name
}

// Close releases idle connections
func (c *CairoClient) Close() {
	c.client.HTTPClient.CloseIdleConnections()
}

type cairoRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cairoRPCError) Error() string {
	return fmt.Sprintf("starknet rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC request and decodes the result into out
func (c *CairoClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	reqData := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	body, err := json.Marshal(reqData)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request for %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, method)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *cairoRPCError  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode result for %s: %w", method, err)
		}
	}
	return nil
}

// BlockNumber returns the current head block number
func (c *CairoClient) BlockNumber(ctx context.Context) (int64, error) {
	var blockNumber int64
	if err := c.call(ctx, "starknet_blockNumber", []interface{}{}, &blockNumber); err != nil {
		return 0, err
	}
	return blockNumber, nil
}

type cairoEvent struct {
	BlockNumber     int64    `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
}

type cairoEventsPage struct {
	Events            []cairoEvent `json:"events"`
	ContinuationToken string       `json:"continuation_token"`
}

// FetchActivity returns the contract's events in [fromBlock, toBlock],
// following continuation tokens until the range is exhausted
func (c *CairoClient) FetchActivity(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error) {
	var records []entities.ActivityRecord
	continuation := ""

	for {
		filter := map[string]interface{}{
			"from_block": map[string]int64{"block_number": fromBlock},
			"to_block":   map[string]int64{"block_number": toBlock},
			"address":    contractAddress,
			"chunk_size": cairoEventPageSize,
		}
		if continuation != "" {
			filter["continuation_token"] = continuation
		}

		var page cairoEventsPage
		if err := c.call(ctx, "starknet_getEvents", []interface{}{filter}, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch events for blocks %d-%d: %w", fromBlock, toBlock, err)
		}

		for i, ev := range page.Events {
			records = append(records, parseCairoEvent(c.chain.Name, ev, len(records)+i))
		}

		if page.ContinuationToken == "" {
			break
		}
		continuation = page.ContinuationToken
	}

	c.logger.Debug("Fetched Cairo activity",
		zap.String("chain", c.chain.Name),
		zap.String("contract", contractAddress),
		zap.Int64("from_block", fromBlock),
		zap.Int64("to_block", toBlock),
		zap.Int("records", len(records)),
	)

	return records, nil
}

// ContractExistsAt reports whether the contract has a class hash at the block
func (c *CairoClient) ContractExistsAt(ctx context.Context, contractAddress string, block int64) (bool, error) {
	params := []interface{}{
		map[string]int64{"block_number": block},
		contractAddress,
	}

	var classHash string
	err := c.call(ctx, "starknet_getClassHashAt", params, &classHash)
	if err != nil {
		var rpcErr *cairoRPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == cairoErrContractNotFound {
			return false, nil
		}
		return false, err
	}
	return classHash != "", nil
}

// parseCairoEvent normalizes a Starknet event into an ActivityRecord.
// Keys beyond the selector that look like account felts become accounts;
// a leading data felt that parses as an integer becomes the value.
func parseCairoEvent(chain string, ev cairoEvent, index int) entities.ActivityRecord {
	record := entities.ActivityRecord{
		Chain:           chain,
		ContractAddress: strings.ToLower(ev.FromAddress),
		BlockNumber:     ev.BlockNumber,
		TxHash:          ev.TransactionHash,
		LogIndex:        index,
	}

	if len(ev.Keys) > 0 {
		record.EventTopic = ev.Keys[0]
	}
	for _, key := range ev.Keys[min(1, len(ev.Keys)):] {
		if isAccountFelt(key) {
			record.Accounts = append(record.Accounts, strings.ToLower(key))
		}
	}

	if len(ev.Data) > 0 {
		if v, ok := new(big.Int).SetString(strings.TrimPrefix(ev.Data[0], "0x"), 16); ok {
			record.Value = v
		}
	}

	return record
}

// isAccountFelt filters out felts that cannot be contract addresses
func isAccountFelt(felt string) bool {
	s := strings.TrimPrefix(strings.ToLower(felt), "0x")
	s = strings.TrimLeft(s, "0")
	// Felt addresses fit in 251 bits: at most 63 hex digits.
	return len(s) > 8 && len(s) <= 63
}
