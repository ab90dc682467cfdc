package entities

// IndexingRange is the concrete block window a session indexes.
// Invariant: DeploymentBlock <= StartBlock <= EndBlock.
type IndexingRange struct {
	ContractAddress string `json:"contract_address"`
	Chain           string `json:"chain"`
	DeploymentBlock int64  `json:"deployment_block"`
	StartBlock      int64  `json:"start_block"`
	EndBlock        int64  `json:"end_block"`
}

// BlockCount returns the number of blocks in the range, inclusive
func (r IndexingRange) BlockCount() int64 {
	return r.EndBlock - r.StartBlock + 1
}
