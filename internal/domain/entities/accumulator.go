package entities

import (
	"fmt"
	"math/big"
)

// Accumulator holds the running metric totals for one session.
// Chunk results are applied in chunk-index order exactly once; re-applying
// an already-applied chunk is a no-op so a resumed session cannot double
// count.
type Accumulator struct {
	TransactionCount int64           `json:"transaction_count"`
	EventCount       int64           `json:"event_count"`
	UniqueAccounts   map[string]bool `json:"unique_accounts"`
	UniqueBlocks     map[int64]bool  `json:"unique_blocks"`
	TotalValue       string          `json:"total_value"`
	LastAppliedChunk int             `json:"last_applied_chunk"`

	totalValue *big.Int
	txSeen     map[string]bool
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		UniqueAccounts:   make(map[string]bool),
		UniqueBlocks:     make(map[int64]bool),
		TotalValue:       "0",
		LastAppliedChunk: -1,
	}
}

// Apply folds one chunk's records into the totals. Chunks must arrive in
// index order; an index at or below LastAppliedChunk is skipped.
func (a *Accumulator) Apply(chunkIndex int, records []ActivityRecord) error {
	if chunkIndex <= a.LastAppliedChunk {
		return nil
	}
	if chunkIndex != a.LastAppliedChunk+1 {
		return fmt.Errorf("chunk %d applied out of order, last applied %d", chunkIndex, a.LastAppliedChunk)
	}

	a.ensureInternal()

	for _, rec := range records {
		a.EventCount++
		if !a.txSeen[rec.TxHash] {
			a.txSeen[rec.TxHash] = true
			a.TransactionCount++
		}
		a.UniqueBlocks[rec.BlockNumber] = true
		for _, acct := range rec.Accounts {
			a.UniqueAccounts[acct] = true
		}
		if rec.Value != nil {
			a.totalValue.Add(a.totalValue, rec.Value)
		}
	}

	a.TotalValue = a.totalValue.String()
	a.LastAppliedChunk = chunkIndex
	return nil
}

// Snapshot returns a copy safe to hand to other goroutines
func (a *Accumulator) Snapshot() Accumulator {
	snap := Accumulator{
		TransactionCount: a.TransactionCount,
		EventCount:       a.EventCount,
		UniqueAccounts:   make(map[string]bool, len(a.UniqueAccounts)),
		UniqueBlocks:     make(map[int64]bool, len(a.UniqueBlocks)),
		TotalValue:       a.TotalValue,
		LastAppliedChunk: a.LastAppliedChunk,
	}
	for k := range a.UniqueAccounts {
		snap.UniqueAccounts[k] = true
	}
	for k := range a.UniqueBlocks {
		snap.UniqueBlocks[k] = true
	}
	return snap
}

// ensureInternal rebuilds unexported state after a JSON round trip.
// The per-tx dedupe set is intentionally not persisted; after a resume the
// horizontal validator is what guards against boundary duplicates.
func (a *Accumulator) ensureInternal() {
	if a.UniqueAccounts == nil {
		a.UniqueAccounts = make(map[string]bool)
	}
	if a.UniqueBlocks == nil {
		a.UniqueBlocks = make(map[int64]bool)
	}
	if a.txSeen == nil {
		a.txSeen = make(map[string]bool)
	}
	if a.totalValue == nil {
		a.totalValue = new(big.Int)
		if a.TotalValue != "" {
			if v, ok := new(big.Int).SetString(a.TotalValue, 10); ok {
				a.totalValue = v
			}
		}
	}
}
