package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/domain/repositories"
)

// Ensure DeploymentRepo implements DeploymentRepository
var _ repositories.DeploymentRepository = (*DeploymentRepo)(nil)

// DeploymentRepo implements DeploymentRepository using PostgreSQL
type DeploymentRepo struct {
	db *sqlx.DB
}

// NewDeploymentRepo creates a new deployment repository
func NewDeploymentRepo(db *sqlx.DB) *DeploymentRepo {
	return &DeploymentRepo{db: db}
}

// Get retrieves the deployment record for a contract
func (r *DeploymentRepo) Get(ctx context.Context, contractAddress, chain string) (*entities.Deployment, error) {
	var deployment entities.Deployment
	query := `SELECT * FROM contract_deployments WHERE contract_address = $1 AND chain = $2`

	if err := r.db.GetContext(ctx, &deployment, query, contractAddress, chain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return &deployment, nil
}

// Put stores a deployment record. An existing record is never overwritten:
// a deployment block must not change once recorded.
func (r *DeploymentRepo) Put(ctx context.Context, deployment *entities.Deployment) error {
	query := `
		INSERT INTO contract_deployments (contract_address, chain, block_number, approximate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contract_address, chain) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		deployment.ContractAddress,
		deployment.Chain,
		deployment.BlockNumber,
		deployment.Approximate,
	)
	if err != nil {
		return fmt.Errorf("failed to store deployment: %w", err)
	}

	return nil
}
