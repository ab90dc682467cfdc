package repositories

import (
	"context"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// TierLookup reads a user's subscription tier from the billing
// collaborator. The engine never writes to it, and never proceeds with an
// assumed tier when the lookup fails.
type TierLookup interface {
	GetTier(ctx context.Context, userID string) (*entities.Tier, error)
}
