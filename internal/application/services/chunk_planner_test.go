package services

import (
	"testing"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

func TestPlanChunks_SplitsRange(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 1_284_000, EndBlock: 1_500_000}

	chunks := PlanChunks(r, DefaultChunkSize)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	if chunks[0].FromBlock != 1_284_000 || chunks[0].ToBlock != 1_483_999 {
		t.Errorf("expected first chunk [1284000, 1483999], got [%d, %d]", chunks[0].FromBlock, chunks[0].ToBlock)
	}
	if chunks[1].FromBlock != 1_484_000 || chunks[1].ToBlock != 1_500_000 {
		t.Errorf("expected second chunk [1484000, 1500000], got [%d, %d]", chunks[1].FromBlock, chunks[1].ToBlock)
	}
}

func TestPlanChunks_ContiguousAndOrdered(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 0, EndBlock: 1_234_567}

	chunks := PlanChunks(r, DefaultChunkSize)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	if chunks[0].FromBlock != r.StartBlock {
		t.Errorf("first chunk starts at %d, want %d", chunks[0].FromBlock, r.StartBlock)
	}
	if chunks[len(chunks)-1].ToBlock != r.EndBlock {
		t.Errorf("last chunk ends at %d, want %d", chunks[len(chunks)-1].ToBlock, r.EndBlock)
	}

	for i := 1; i < len(chunks); i++ {
		if chunks[i].Index != i {
			t.Errorf("chunk %d has index %d", i, chunks[i].Index)
		}
		if chunks[i].FromBlock != chunks[i-1].ToBlock+1 {
			t.Errorf("gap between chunk %d and %d: %d -> %d",
				i-1, i, chunks[i-1].ToBlock, chunks[i].FromBlock)
		}
	}
}

func TestPlanChunks_Deterministic(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 123, EndBlock: 987_654}

	a := PlanChunks(r, DefaultChunkSize)
	b := PlanChunks(r, DefaultChunkSize)

	if len(a) != len(b) {
		t.Fatalf("plans differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].FromBlock != b[i].FromBlock || a[i].ToBlock != b[i].ToBlock {
			t.Errorf("chunk %d differs: [%d, %d] vs [%d, %d]",
				i, a[i].FromBlock, a[i].ToBlock, b[i].FromBlock, b[i].ToBlock)
		}
	}
}

func TestPlanChunks_SingleBlockRange(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 42, EndBlock: 42}

	chunks := PlanChunks(r, DefaultChunkSize)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].FromBlock != 42 || chunks[0].ToBlock != 42 {
		t.Errorf("expected chunk [42, 42], got [%d, %d]", chunks[0].FromBlock, chunks[0].ToBlock)
	}
}

func TestPlanChunks_ExactMultiple(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 0, EndBlock: 399_999}

	chunks := PlanChunks(r, DefaultChunkSize)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].ToBlock != 399_999 {
		t.Errorf("expected last chunk to end at 399999, got %d", chunks[1].ToBlock)
	}
}

func TestPlanChunks_InvalidRange(t *testing.T) {
	r := entities.IndexingRange{StartBlock: 100, EndBlock: 99}

	if chunks := PlanChunks(r, DefaultChunkSize); chunks != nil {
		t.Errorf("expected nil plan for inverted range, got %d chunks", len(chunks))
	}
}

func TestChunkPlan_StatusTracking(t *testing.T) {
	plan := NewChunkPlan(entities.IndexingRange{StartBlock: 0, EndBlock: 500_000}, DefaultChunkSize)

	if plan.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", plan.Len())
	}

	if err := plan.MarkStatus(0, entities.ChunkValidated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ValidatedCount() != 1 {
		t.Errorf("expected 1 validated chunk, got %d", plan.ValidatedCount())
	}

	if err := plan.MarkStatus(5, entities.ChunkValidated); err == nil {
		t.Error("expected error for out-of-range index")
	}
}
