package entities

// ChunkStatus tracks the lifecycle of a single chunk
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkFetching  ChunkStatus = "fetching"
	ChunkValidated ChunkStatus = "validated"
	ChunkFailed    ChunkStatus = "failed"
)

// Chunk is a fixed-size sub-range of an IndexingRange, processed as a unit.
// Chunks are contiguous and ordered by index.
type Chunk struct {
	Index     int         `json:"index"`
	FromBlock int64       `json:"from_block"`
	ToBlock   int64       `json:"to_block"`
	Status    ChunkStatus `json:"status"`
}

// ChunkResult holds the activity fetched for one chunk
type ChunkResult struct {
	Chunk   Chunk
	Records []ActivityRecord
}

// MinBlock returns the lowest block number seen in the result,
// or -1 when the result is empty
func (r *ChunkResult) MinBlock() int64 {
	min := int64(-1)
	for _, rec := range r.Records {
		if min == -1 || rec.BlockNumber < min {
			min = rec.BlockNumber
		}
	}
	return min
}

// MaxBlock returns the highest block number seen in the result,
// or -1 when the result is empty
func (r *ChunkResult) MaxBlock() int64 {
	max := int64(-1)
	for _, rec := range r.Records {
		if rec.BlockNumber > max {
			max = rec.BlockNumber
		}
	}
	return max
}

// Tail returns the boundary data the next chunk is validated against
func (r *ChunkResult) Tail() *ChunkTail {
	tail := &ChunkTail{
		ChunkIndex: r.Chunk.Index,
		MaxBlock:   r.MaxBlock(),
		TxHashes:   make(map[string]bool, len(r.Records)),
	}
	// An empty chunk still advances the boundary to its planned end.
	if tail.MaxBlock < 0 {
		tail.MaxBlock = r.Chunk.ToBlock
	}
	for _, rec := range r.Records {
		tail.TxHashes[rec.TxHash] = true
	}
	return tail
}

// ChunkTail carries one chunk's boundary identifiers across to the
// validation of the next chunk
type ChunkTail struct {
	ChunkIndex int
	MaxBlock   int64
	TxHashes   map[string]bool
}
