package repositories

import (
	"context"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// DeploymentRepository defines the interface for deployment block records
type DeploymentRepository interface {
	// Get retrieves the deployment record for a contract, nil when unknown
	Get(ctx context.Context, contractAddress, chain string) (*entities.Deployment, error)

	// Put stores a deployment record
	Put(ctx context.Context, deployment *entities.Deployment) error
}
