package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// EndpointProvider is what the handler needs from the RPC pool
type EndpointProvider interface {
	Chains() []string
	Endpoints(chain string) []entities.Endpoint
}

// ChainsHandler exposes the configured chains and their endpoint health
type ChainsHandler struct {
	pool EndpointProvider
}

// NewChainsHandler creates a new chains handler
func NewChainsHandler(pool EndpointProvider) *ChainsHandler {
	return &ChainsHandler{pool: pool}
}

// List handles GET /api/v1/chains
func (h *ChainsHandler) List(w http.ResponseWriter, r *http.Request) {
	chains := h.pool.Chains()
	sort.Strings(chains)

	type chainInfo struct {
		Name         string `json:"name"`
		Family       string `json:"family"`
		BlocksPerDay int64  `json:"blocks_per_day"`
		Endpoints    int    `json:"endpoints"`
	}

	out := make([]chainInfo, 0, len(chains))
	for _, name := range chains {
		chain, ok := entities.ChainByName(name)
		if !ok {
			continue
		}
		out = append(out, chainInfo{
			Name:         chain.Name,
			Family:       string(chain.Family),
			BlocksPerDay: chain.BlocksPerDay,
			Endpoints:    len(h.pool.Endpoints(name)),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Endpoints handles GET /api/v1/chains/{chain}/endpoints
func (h *ChainsHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	chain := chi.URLParam(r, "chain")

	endpoints := h.pool.Endpoints(chain)
	if endpoints == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown chain"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(endpoints)
}
