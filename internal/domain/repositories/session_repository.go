package repositories

import (
	"context"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// SessionRepository defines the interface for session persistence
type SessionRepository interface {
	// Get retrieves a session by id, nil when not found
	Get(ctx context.Context, sessionID string) (*entities.IndexerSession, error)

	// Upsert creates or updates a session
	Upsert(ctx context.Context, session *entities.IndexerSession) error

	// UpdateProgress records a validated chunk checkpoint: state, chunk
	// counters, the covered end block and the accumulator snapshot
	UpdateProgress(ctx context.Context, sessionID string, progress entities.SessionProgress) error

	// UpdateState updates only the lifecycle state and error message
	UpdateState(ctx context.Context, sessionID string, state entities.SessionState, lastError string) error

	// ListByStates returns all sessions currently in one of the given states
	ListByStates(ctx context.Context, states ...entities.SessionState) ([]entities.IndexerSession, error)
}
