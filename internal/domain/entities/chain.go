package entities

// ChainFamily identifies the client implementation a chain needs
type ChainFamily string

const (
	ChainFamilyEVM   ChainFamily = "evm"
	ChainFamilyCairo ChainFamily = "cairo"
)

// Chain describes a supported chain
type Chain struct {
	Name         string
	Family       ChainFamily
	ChainID      int64
	BlocksPerDay int64
}

// Block production assumptions: ethereum 12s, base 2s, starknet 30s.
var supportedChains = map[string]Chain{
	"ethereum": {Name: "ethereum", Family: ChainFamilyEVM, ChainID: 1, BlocksPerDay: 7200},
	"base":     {Name: "base", Family: ChainFamilyEVM, ChainID: 8453, BlocksPerDay: 43200},
	"starknet": {Name: "starknet", Family: ChainFamilyCairo, ChainID: 0, BlocksPerDay: 2880},
}

// ChainByName returns the chain definition for a chain name
func ChainByName(name string) (Chain, bool) {
	c, ok := supportedChains[name]
	return c, ok
}
