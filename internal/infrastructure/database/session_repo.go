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

// Ensure SessionRepo implements SessionRepository
var _ repositories.SessionRepository = (*SessionRepo)(nil)

// SessionRepo implements SessionRepository using PostgreSQL
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo creates a new session repository
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Get retrieves a session by id
func (r *SessionRepo) Get(ctx context.Context, sessionID string) (*entities.IndexerSession, error) {
	var session entities.IndexerSession
	query := `SELECT * FROM sessions WHERE session_id = $1`

	if err := r.db.GetContext(ctx, &session, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// Upsert creates or updates a session
func (r *SessionRepo) Upsert(ctx context.Context, session *entities.IndexerSession) error {
	query := `
		INSERT INTO sessions (
			session_id, user_id, contract_address, chain, tier, state,
			deployment_block, deployment_approximate, start_block, end_block,
			total_chunks, last_completed_chunk, accumulator, last_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			state = EXCLUDED.state,
			deployment_block = EXCLUDED.deployment_block,
			deployment_approximate = EXCLUDED.deployment_approximate,
			start_block = EXCLUDED.start_block,
			end_block = EXCLUDED.end_block,
			total_chunks = EXCLUDED.total_chunks,
			last_completed_chunk = EXCLUDED.last_completed_chunk,
			accumulator = EXCLUDED.accumulator,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		session.SessionID,
		session.UserID,
		session.ContractAddress,
		session.Chain,
		session.Tier,
		session.State,
		session.DeploymentBlock,
		session.DeploymentApproximate,
		session.StartBlock,
		session.EndBlock,
		session.TotalChunks,
		session.LastCompletedChunk,
		session.AccumulatorSnapshot,
		session.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// UpdateProgress records a validated chunk checkpoint. Monitoring mode
// grows end_block and total_chunks with every synthesized chunk; both
// must land in the same write as last_completed_chunk or a crash leaves
// a checkpoint pointing at the stale historical range.
func (r *SessionRepo) UpdateProgress(ctx context.Context, sessionID string, progress entities.SessionProgress) error {
	query := `
		UPDATE sessions SET
			state = $2,
			last_completed_chunk = $3,
			total_chunks = $4,
			end_block = $5,
			accumulator = $6,
			updated_at = NOW()
		WHERE session_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, sessionID,
		progress.State,
		progress.LastCompletedChunk,
		progress.TotalChunks,
		progress.EndBlock,
		progress.Accumulator,
	)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}

	return nil
}

// UpdateState updates only the lifecycle state and error message
func (r *SessionRepo) UpdateState(ctx context.Context, sessionID string, state entities.SessionState, lastError string) error {
	query := `
		UPDATE sessions SET
			state = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE session_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, sessionID, state, lastError)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}

	return nil
}

// ListByStates returns all sessions currently in one of the given states
func (r *SessionRepo) ListByStates(ctx context.Context, states ...entities.SessionState) ([]entities.IndexerSession, error) {
	if len(states) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM sessions WHERE state IN (?) ORDER BY created_at`, states)
	if err != nil {
		return nil, fmt.Errorf("failed to build session query: %w", err)
	}
	query = r.db.Rebind(query)

	var sessions []entities.IndexerSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}
