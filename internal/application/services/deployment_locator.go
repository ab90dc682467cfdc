package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/domain/repositories"
	"github.com/bimakw/stream-indexer/internal/infrastructure/cache"
	"github.com/bimakw/stream-indexer/internal/infrastructure/explorer"
	"github.com/bimakw/stream-indexer/internal/infrastructure/rpc"
)

// ErrDeploymentUnknown means every location strategy failed. Callers must
// treat this as fatal for the session; guessing block zero would force
// indexing the whole chain history.
var ErrDeploymentUnknown = errors.New("deployment block unknown")

// probeAttempts bounds endpoint rotations per binary search probe
const probeAttempts = 3

// ExplorerLookup is the optional fast path for deployment discovery
type ExplorerLookup interface {
	FindFirstActivity(ctx context.Context, chain, contractAddress string) (int64, error)
}

// DeploymentLocator finds the first block a contract exists in. Results
// are cached in Redis and recorded durably; a located deployment never
// changes for a given contract.
type DeploymentLocator struct {
	pool           *rpc.Pool
	explorer       ExplorerLookup
	deployments    repositories.DeploymentRepository
	cache          *cache.RedisCache
	lookbackBlocks int64
	logger         *zap.Logger
}

// NewDeploymentLocator creates a deployment locator. The explorer and
// cache may be nil.
func NewDeploymentLocator(
	pool *rpc.Pool,
	explorerLookup ExplorerLookup,
	deployments repositories.DeploymentRepository,
	redisCache *cache.RedisCache,
	lookbackBlocks int64,
	logger *zap.Logger,
) *DeploymentLocator {
	return &DeploymentLocator{
		pool:           pool,
		explorer:       explorerLookup,
		deployments:    deployments,
		cache:          redisCache,
		lookbackBlocks: lookbackBlocks,
		logger:         logger,
	}
}

// Locate returns the deployment record for a contract, computing and
// recording it on first use
func (l *DeploymentLocator) Locate(ctx context.Context, contractAddress, chain string, currentBlock int64) (*entities.Deployment, error) {
	cacheKey := "deployment:" + chain + ":" + contractAddress

	if l.cache != nil {
		var cached entities.Deployment
		if err := l.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	if existing, err := l.deployments.Get(ctx, contractAddress, chain); err != nil {
		return nil, fmt.Errorf("failed to read deployment record: %w", err)
	} else if existing != nil {
		l.cacheDeployment(ctx, cacheKey, existing)
		return existing, nil
	}

	deployment, err := l.locate(ctx, contractAddress, chain, currentBlock)
	if err != nil {
		return nil, err
	}

	if err := l.deployments.Put(ctx, deployment); err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}
	l.cacheDeployment(ctx, cacheKey, deployment)

	l.logger.Info("Located contract deployment",
		zap.String("chain", chain),
		zap.String("contract", contractAddress),
		zap.Int64("block", deployment.BlockNumber),
		zap.Bool("approximate", deployment.Approximate),
	)

	return deployment, nil
}

func (l *DeploymentLocator) locate(ctx context.Context, contractAddress, chain string, currentBlock int64) (*entities.Deployment, error) {
	// Fast path: explorer lookup.
	if l.explorer != nil {
		block, err := l.explorer.FindFirstActivity(ctx, chain, contractAddress)
		switch {
		case err == nil:
			return &entities.Deployment{
				ContractAddress: contractAddress,
				Chain:           chain,
				BlockNumber:     block,
			}, nil
		case errors.Is(err, explorer.ErrNotConfigured):
			// fall through to binary search
		default:
			l.logger.Warn("Explorer lookup failed, falling back to binary search",
				zap.String("chain", chain),
				zap.String("contract", contractAddress),
				zap.Error(err),
			)
		}
	}

	block, err := l.binarySearch(ctx, contractAddress, chain, currentBlock)
	if err == nil {
		return &entities.Deployment{
			ContractAddress: contractAddress,
			Chain:           chain,
			BlockNumber:     block,
		}, nil
	}
	if errors.Is(err, ErrDeploymentUnknown) {
		// The chain answered: the contract has no footprint. Estimating
		// would index a range the contract was never part of.
		return nil, err
	}

	l.logger.Warn("Binary search failed, falling back to lookback estimate",
		zap.String("chain", chain),
		zap.String("contract", contractAddress),
		zap.Error(err),
	)

	estimate := currentBlock - l.lookbackBlocks
	if estimate < 0 {
		estimate = 0
	}
	return &entities.Deployment{
		ContractAddress: contractAddress,
		Chain:           chain,
		BlockNumber:     estimate,
		Approximate:     true,
	}, nil
}

// binarySearch finds the first block where the contract exists, with
// O(log currentBlock) probes. Returns ErrDeploymentUnknown when the
// contract has no footprint even at the current block.
func (l *DeploymentLocator) binarySearch(ctx context.Context, contractAddress, chain string, currentBlock int64) (int64, error) {
	exists, err := l.probe(ctx, contractAddress, chain, currentBlock)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: contract %s has no footprint on %s at block %d",
			ErrDeploymentUnknown, contractAddress, chain, currentBlock)
	}

	lo, hi := int64(0), currentBlock
	for lo < hi {
		mid := lo + (hi-lo)/2
		exists, err := l.probe(ctx, contractAddress, chain, mid)
		if err != nil {
			return 0, err
		}
		if exists {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	return lo, nil
}

// probe asks "does the contract exist at or before this block", rotating
// endpoints on failure
func (l *DeploymentLocator) probe(ctx context.Context, contractAddress, chain string, block int64) (bool, error) {
	var lastErr error

	for attempt := 0; attempt < probeAttempts; attempt++ {
		client, endpoint, err := l.pool.Acquire(chain)
		if err != nil {
			return false, err
		}

		start := time.Now()
		exists, err := client.ContractExistsAt(ctx, contractAddress, block)
		if err != nil {
			l.pool.ReportFailure(chain, endpoint.URL, err)
			lastErr = err
			continue
		}

		l.pool.ReportSuccess(chain, endpoint.URL, time.Since(start))
		return exists, nil
	}

	return false, fmt.Errorf("deployment probe failed after %d attempts: %w", probeAttempts, lastErr)
}

func (l *DeploymentLocator) cacheDeployment(ctx context.Context, key string, deployment *entities.Deployment) {
	if l.cache == nil {
		return
	}
	// Deployments never change; cache without expiry.
	if err := l.cache.SetWithTTL(ctx, key, deployment, 0); err != nil {
		l.logger.Warn("Failed to cache deployment", zap.Error(err))
	}
}
