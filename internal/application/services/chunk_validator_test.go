package services

import (
	"testing"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/testutil"
)

func chunkResult(index int, from, to int64, records []entities.ActivityRecord) *entities.ChunkResult {
	return &entities.ChunkResult{
		Chunk:   entities.Chunk{Index: index, FromBlock: from, ToBlock: to},
		Records: records,
	}
}

func TestValidateHorizontal_FirstChunk(t *testing.T) {
	result := chunkResult(0, 100, 199, testutil.CreateTestRecords(testutil.USDTAddress, 100, 105))

	ok, issues := ValidateHorizontal(nil, result)
	if !ok {
		t.Errorf("expected valid chunk, got issues: %v", issues)
	}
}

func TestValidateHorizontal_RecordOutsideRange(t *testing.T) {
	records := testutil.CreateTestRecords(testutil.USDTAddress, 100, 105)
	records = append(records, entities.ActivityRecord{
		BlockNumber: 250,
		TxHash:      "0xoutsider",
	})
	result := chunkResult(0, 100, 199, records)

	ok, issues := ValidateHorizontal(nil, result)
	if ok {
		t.Fatal("expected containment violation")
	}
	if len(issues) != 1 {
		t.Errorf("expected 1 issue, got %d: %v", len(issues), issues)
	}
}

func TestValidateHorizontal_BoundaryAdvances(t *testing.T) {
	prevResult := chunkResult(0, 100, 199, testutil.CreateTestRecords(testutil.USDTAddress, 100, 150))
	prev := prevResult.Tail()

	result := chunkResult(1, 200, 299, testutil.CreateTestRecords(testutil.USDTAddress, 200, 210))

	ok, issues := ValidateHorizontal(prev, result)
	if !ok {
		t.Errorf("expected valid boundary, got issues: %v", issues)
	}
}

func TestValidateHorizontal_BoundaryOverlap(t *testing.T) {
	prevResult := chunkResult(0, 100, 199, testutil.CreateTestRecords(testutil.USDTAddress, 100, 150))
	prev := prevResult.Tail()

	// A record at block 150 does not advance past the previous max.
	result := chunkResult(1, 200, 299, []entities.ActivityRecord{
		{BlockNumber: 150, TxHash: "0xstale"},
	})

	ok, _ := ValidateHorizontal(prev, result)
	if ok {
		t.Error("expected boundary violation for non-advancing min block")
	}
}

func TestValidateHorizontal_RepeatedTransaction(t *testing.T) {
	prevRecords := testutil.CreateTestRecords(testutil.USDTAddress, 100, 150)
	prevResult := chunkResult(0, 100, 199, prevRecords)
	prev := prevResult.Tail()

	// Same tx hash as the record at block 150 in the previous chunk.
	result := chunkResult(1, 200, 299, []entities.ActivityRecord{
		{BlockNumber: 200, TxHash: prevRecords[len(prevRecords)-1].TxHash},
	})

	ok, _ := ValidateHorizontal(prev, result)
	if ok {
		t.Error("expected violation for transaction repeated across the boundary")
	}
}

func TestValidateHorizontal_EmptyChunk(t *testing.T) {
	prevResult := chunkResult(0, 100, 199, testutil.CreateTestRecords(testutil.USDTAddress, 100, 150))
	prev := prevResult.Tail()

	result := chunkResult(1, 200, 299, nil)

	ok, issues := ValidateHorizontal(prev, result)
	if !ok {
		t.Errorf("expected empty chunk to validate, got issues: %v", issues)
	}
}

func TestValidateHorizontal_EmptyPreviousChunk(t *testing.T) {
	// An empty previous chunk still bounds the boundary at its planned end.
	prevResult := chunkResult(0, 100, 199, nil)
	prev := prevResult.Tail()

	if prev.MaxBlock != 199 {
		t.Fatalf("expected empty chunk tail at planned end 199, got %d", prev.MaxBlock)
	}

	result := chunkResult(1, 200, 299, testutil.CreateTestRecords(testutil.USDTAddress, 200, 205))
	ok, issues := ValidateHorizontal(prev, result)
	if !ok {
		t.Errorf("expected valid chunk after empty predecessor, got issues: %v", issues)
	}
}
