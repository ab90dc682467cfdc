package services

import (
	"fmt"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// ValidateHorizontal checks one chunk's result against the boundary data
// of the chunk before it. A failure marks only this chunk for retry;
// already-validated chunks keep their contribution to the accumulator.
//
// Checks:
//   - every record falls inside the chunk's own block range
//   - the previous chunk's maximum block is strictly below this chunk's
//     minimum (no duplicated blocks, no overlap across the boundary)
//   - no transaction hash repeats across the boundary
func ValidateHorizontal(prev *entities.ChunkTail, result *entities.ChunkResult) (bool, []string) {
	var issues []string

	for _, rec := range result.Records {
		if rec.BlockNumber < result.Chunk.FromBlock || rec.BlockNumber > result.Chunk.ToBlock {
			issues = append(issues, fmt.Sprintf(
				"block %d outside chunk %d range [%d, %d]",
				rec.BlockNumber, result.Chunk.Index, result.Chunk.FromBlock, result.Chunk.ToBlock,
			))
		}
	}

	if prev != nil {
		if minBlock := result.MinBlock(); minBlock >= 0 && minBlock <= prev.MaxBlock {
			issues = append(issues, fmt.Sprintf(
				"chunk %d min block %d does not advance past chunk %d max block %d",
				result.Chunk.Index, minBlock, prev.ChunkIndex, prev.MaxBlock,
			))
		}

		for _, rec := range result.Records {
			if prev.TxHashes[rec.TxHash] {
				issues = append(issues, fmt.Sprintf(
					"transaction %s repeated across chunks %d and %d",
					rec.TxHash, prev.ChunkIndex, result.Chunk.Index,
				))
			}
		}
	}

	return len(issues) == 0, issues
}
