package entities

import (
	"math/big"
)

// ActivityRecord is one unit of on-chain activity for a contract,
// normalized across chain families. EVM logs and Cairo events both map
// onto this shape.
type ActivityRecord struct {
	Chain           string   `json:"chain"`
	ContractAddress string   `json:"contract_address"`
	BlockNumber     int64    `json:"block_number"`
	TxHash          string   `json:"tx_hash"`
	LogIndex        int      `json:"log_index"`
	EventTopic      string   `json:"event_topic"`
	Accounts        []string `json:"accounts"`
	Value           *big.Int `json:"-"`
}
