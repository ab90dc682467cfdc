package entities

import (
	"time"
)

// Deployment records the first block at which a contract exists on a
// chain. Once recorded it never changes; Approximate marks values that
// came from the bounded-lookback fallback rather than an exact lookup.
type Deployment struct {
	ContractAddress string    `db:"contract_address" json:"contract_address"`
	Chain           string    `db:"chain" json:"chain"`
	BlockNumber     int64     `db:"block_number" json:"block_number"`
	Approximate     bool      `db:"approximate" json:"approximate"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
