package services

import (
	"fmt"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// DefaultChunkSize is the block span of one chunk
const DefaultChunkSize int64 = 200_000

// PlanChunks splits a range into contiguous, ordered chunks. The split is
// deterministic: replanning the same range always yields the same
// boundaries, which is what makes resuming from a completed chunk index
// safe after a restart.
func PlanChunks(r entities.IndexingRange, chunkSize int64) []entities.Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if r.StartBlock > r.EndBlock {
		return nil
	}

	var chunks []entities.Chunk
	for from := r.StartBlock; from <= r.EndBlock; from += chunkSize {
		to := from + chunkSize - 1
		if to > r.EndBlock {
			to = r.EndBlock
		}
		chunks = append(chunks, entities.Chunk{
			Index:     len(chunks),
			FromBlock: from,
			ToBlock:   to,
			Status:    entities.ChunkPending,
		})
	}

	return chunks
}

// ChunkPlan tracks per-chunk status for one session's range
type ChunkPlan struct {
	Range  entities.IndexingRange
	Chunks []entities.Chunk
}

// NewChunkPlan plans a range and wraps the result for status tracking
func NewChunkPlan(r entities.IndexingRange, chunkSize int64) *ChunkPlan {
	return &ChunkPlan{
		Range:  r,
		Chunks: PlanChunks(r, chunkSize),
	}
}

// MarkStatus sets the status of one chunk
func (p *ChunkPlan) MarkStatus(index int, status entities.ChunkStatus) error {
	if index < 0 || index >= len(p.Chunks) {
		return fmt.Errorf("chunk index %d out of range, plan has %d chunks", index, len(p.Chunks))
	}
	p.Chunks[index].Status = status
	return nil
}

// Len returns the number of planned chunks
func (p *ChunkPlan) Len() int {
	return len(p.Chunks)
}

// ValidatedCount returns how many chunks are validated
func (p *ChunkPlan) ValidatedCount() int {
	count := 0
	for _, c := range p.Chunks {
		if c.Status == entities.ChunkValidated {
			count++
		}
	}
	return count
}
