package testutil

import (
	"fmt"
	"time"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// Common test addresses
const (
	USDTAddress    = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	USDCAddress    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	AliceAddress   = "0x1111111111111111111111111111111111111111"
	BobAddress     = "0x2222222222222222222222222222222222222222"
	StarknetETHAdr = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
)

// Common test tiers
var (
	FreeTier     = entities.Tier{Name: "free", HistoricalDays: 30, ContinuousSync: false}
	ProTier      = entities.Tier{Name: "pro", HistoricalDays: 365, ContinuousSync: true}
	EnterpriseTr = entities.Tier{Name: "enterprise", HistoricalDays: -1, ContinuousSync: true}
)

// CreateTestSession creates a test session with default values
func CreateTestSession(opts ...SessionOption) entities.IndexerSession {
	deployment := int64(1_000_000)
	s := entities.IndexerSession{
		SessionID:          "11111111-2222-3333-4444-555555555555",
		UserID:             "user-1",
		ContractAddress:    USDTAddress,
		Chain:              "ethereum",
		Tier:               "free",
		State:              entities.SessionCreated,
		DeploymentBlock:    &deployment,
		StartBlock:         1_284_000,
		EndBlock:           1_500_000,
		TotalChunks:        2,
		LastCompletedChunk: -1,
		CreatedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

type SessionOption func(*entities.IndexerSession)

func WithSessionID(id string) SessionOption {
	return func(s *entities.IndexerSession) {
		s.SessionID = id
	}
}

func WithUserID(id string) SessionOption {
	return func(s *entities.IndexerSession) {
		s.UserID = id
	}
}

func WithContract(addr string) SessionOption {
	return func(s *entities.IndexerSession) {
		s.ContractAddress = addr
	}
}

func WithChain(chain string) SessionOption {
	return func(s *entities.IndexerSession) {
		s.Chain = chain
	}
}

func WithState(state entities.SessionState) SessionOption {
	return func(s *entities.IndexerSession) {
		s.State = state
	}
}

func WithDeploymentBlock(block int64) SessionOption {
	return func(s *entities.IndexerSession) {
		s.DeploymentBlock = &block
	}
}

func WithoutRange() SessionOption {
	return func(s *entities.IndexerSession) {
		s.DeploymentBlock = nil
		s.StartBlock = 0
		s.EndBlock = 0
		s.TotalChunks = 0
	}
}

func WithBlocks(start, end int64) SessionOption {
	return func(s *entities.IndexerSession) {
		s.StartBlock = start
		s.EndBlock = end
	}
}

func WithProgress(totalChunks, lastCompleted int) SessionOption {
	return func(s *entities.IndexerSession) {
		s.TotalChunks = totalChunks
		s.LastCompletedChunk = lastCompleted
	}
}

// CreateTestRecords generates one activity record per block in the range
func CreateTestRecords(contractAddress string, fromBlock, toBlock int64) []entities.ActivityRecord {
	var records []entities.ActivityRecord
	for block := fromBlock; block <= toBlock; block++ {
		records = append(records, entities.ActivityRecord{
			Chain:           "ethereum",
			ContractAddress: contractAddress,
			BlockNumber:     block,
			TxHash:          fmt.Sprintf("0x%064x", block),
			LogIndex:        0,
			EventTopic:      "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
			Accounts:        []string{AliceAddress, BobAddress},
		})
	}
	return records
}
