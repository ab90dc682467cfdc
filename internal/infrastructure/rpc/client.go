package rpc

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// ChainClient is the capability interface every chain family implements.
// One implementation exists per family (EVM-style, Cairo-style); the pool
// selects the implementation from the chain definition at construction.
type ChainClient interface {
	// Chain returns the chain name this client serves
	Chain() string

	// BlockNumber returns the current head block number
	BlockNumber(ctx context.Context) (int64, error)

	// FetchActivity returns the contract's activity in [fromBlock, toBlock]
	FetchActivity(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error)

	// ContractExistsAt reports whether the contract has any on-chain
	// footprint at the given block
	ContractExistsAt(ctx context.Context, contractAddress string, block int64) (bool, error)

	// Close releases the underlying connection
	Close()
}

// ClientFactory builds a ChainClient for one endpoint URL
type ClientFactory func(chain entities.Chain, url string, cfg config.ChainsConfig, logger *zap.Logger) (ChainClient, error)

// DefaultClientFactory dispatches on the chain family
func DefaultClientFactory(chain entities.Chain, url string, cfg config.ChainsConfig, logger *zap.Logger) (ChainClient, error) {
	switch chain.Family {
	case entities.ChainFamilyEVM:
		return NewEVMClient(chain, url, cfg, logger)
	case entities.ChainFamilyCairo:
		return NewCairoClient(chain, url, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported chain family %q for chain %s", chain.Family, chain.Name)
	}
}
