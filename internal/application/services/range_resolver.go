package services

import (
	"fmt"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// ResolveRange converts a tier's historical window into a concrete block
// range. The start block never precedes the deployment block, however far
// back the tier's day window would reach.
func ResolveRange(tier entities.Tier, chain entities.Chain, deploymentBlock, currentBlock int64) (entities.IndexingRange, error) {
	if deploymentBlock < 0 || currentBlock < 0 {
		return entities.IndexingRange{}, fmt.Errorf("negative block number: deployment %d, current %d", deploymentBlock, currentBlock)
	}
	if deploymentBlock > currentBlock {
		return entities.IndexingRange{}, fmt.Errorf("deployment block %d is past current block %d", deploymentBlock, currentBlock)
	}

	startBlock := deploymentBlock
	if !tier.Unlimited() {
		candidate := currentBlock - int64(tier.HistoricalDays)*chain.BlocksPerDay
		if candidate > startBlock {
			startBlock = candidate
		}
	}

	return entities.IndexingRange{
		Chain:           chain.Name,
		DeploymentBlock: deploymentBlock,
		StartBlock:      startBlock,
		EndBlock:        currentBlock,
	}, nil
}
