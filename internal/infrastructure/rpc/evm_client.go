package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// Ensure EVMClient implements ChainClient
var _ ChainClient = (*EVMClient)(nil)

// EVMClient serves EVM-family chains through go-ethereum's ethclient.
// It makes single attempts only; endpoint rotation and retries belong to
// the pool and the indexer above it.
type EVMClient struct {
	client *ethclient.Client
	chain  entities.Chain
	url    string
	logger *zap.Logger
}

// NewEVMClient creates a client for one EVM endpoint
func NewEVMClient(chain entities.Chain, url string, cfg config.ChainsConfig, logger *zap.Logger) (*EVMClient, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EVM endpoint %s: %w", url, err)
	}

	return &EVMClient{
		client: client,
		chain:  chain,
		url:    url,
		logger: logger,
	}, nil
}

// Chain returns the chain name this client serves
func (c *EVMClient) Chain() string {
	return c.chain.Name
}

// Close closes the underlying connection
func (c *EVMClient) Close() {
	c.client.Close()
}

// BlockNumber returns the current head block number
func (c *EVMClient) BlockNumber(ctx context.Context) (int64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return int64(n), nil
}

// FetchActivity returns the contract's logs in [fromBlock, toBlock]
func (c *EVMClient) FetchActivity(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{common.HexToAddress(contractAddress)},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs for blocks %d-%d: %w", fromBlock, toBlock, err)
	}

	records := make([]entities.ActivityRecord, 0, len(logs))
	for _, log := range logs {
		records = append(records, ParseEVMLog(c.chain.Name, log))
	}

	c.logger.Debug("Fetched EVM activity",
		zap.String("chain", c.chain.Name),
		zap.String("contract", contractAddress),
		zap.Int64("from_block", fromBlock),
		zap.Int64("to_block", toBlock),
		zap.Int("records", len(records)),
	)

	return records, nil
}

// ContractExistsAt reports whether the contract has code at the block
func (c *EVMClient) ContractExistsAt(ctx context.Context, contractAddress string, block int64) (bool, error) {
	code, err := c.client.CodeAt(ctx, common.HexToAddress(contractAddress), big.NewInt(block))
	if err != nil {
		return false, fmt.Errorf("failed to get code at block %d: %w", block, err)
	}
	return len(code) > 0, nil
}

// ParseEVMLog normalizes a raw log into an ActivityRecord. Indexed topics
// that are zero-padded to address width are treated as participating
// accounts; a single 32-byte data word is treated as a value.
func ParseEVMLog(chain string, log types.Log) entities.ActivityRecord {
	record := entities.ActivityRecord{
		Chain:           chain,
		ContractAddress: strings.ToLower(log.Address.Hex()),
		BlockNumber:     int64(log.BlockNumber),
		TxHash:          log.TxHash.Hex(),
		LogIndex:        int(log.Index),
	}

	if len(log.Topics) > 0 {
		record.EventTopic = log.Topics[0].Hex()
	}

	for _, topic := range log.Topics[min(1, len(log.Topics)):] {
		if isAddressTopic(topic) {
			addr := common.BytesToAddress(topic.Bytes())
			record.Accounts = append(record.Accounts, strings.ToLower(addr.Hex()))
		}
	}

	if len(log.Data) == 32 {
		record.Value = new(big.Int).SetBytes(log.Data)
	}

	return record
}

// isAddressTopic reports whether a topic is an address padded to 32 bytes
func isAddressTopic(topic common.Hash) bool {
	b := topic.Bytes()
	for _, v := range b[:12] {
		if v != 0 {
			return false
		}
	}
	// All-zero topics are values, not the zero address participating.
	for _, v := range b[12:] {
		if v != 0 {
			return true
		}
	}
	return false
}
