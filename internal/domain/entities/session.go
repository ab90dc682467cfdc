package entities

import (
	"time"
)

// SessionState is the lifecycle state of an indexing session
type SessionState string

const (
	SessionCreated    SessionState = "created"
	SessionLocating   SessionState = "locating_deployment"
	SessionIndexing   SessionState = "indexing"
	SessionMonitoring SessionState = "monitoring"
	SessionPaused     SessionState = "paused"
	SessionStopped    SessionState = "stopped"
	SessionErrored    SessionState = "errored"
)

// Terminal reports whether the state ends the session object.
// A new session may still be created for the same target afterward.
func (s SessionState) Terminal() bool {
	return s == SessionStopped || s == SessionErrored
}

// IndexerSession tracks one (user, contract, chain) indexing run
type IndexerSession struct {
	SessionID             string       `db:"session_id" json:"session_id"`
	UserID                string       `db:"user_id" json:"user_id"`
	ContractAddress       string       `db:"contract_address" json:"contract_address"`
	Chain                 string       `db:"chain" json:"chain"`
	Tier                  string       `db:"tier" json:"tier"`
	State                 SessionState `db:"state" json:"state"`
	DeploymentBlock       *int64       `db:"deployment_block" json:"deployment_block,omitempty"`
	DeploymentApproximate bool         `db:"deployment_approximate" json:"deployment_approximate"`
	StartBlock            int64        `db:"start_block" json:"start_block"`
	EndBlock              int64        `db:"end_block" json:"end_block"`
	TotalChunks           int          `db:"total_chunks" json:"total_chunks"`
	LastCompletedChunk    int          `db:"last_completed_chunk" json:"last_completed_chunk"`
	AccumulatorSnapshot   []byte       `db:"accumulator" json:"-"`
	LastError             string       `db:"last_error" json:"last_error,omitempty"`
	CreatedAt             time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at" json:"updated_at"`
}

// SessionProgress is the durable per-chunk checkpoint. Monitoring grows
// the covered range chunk by chunk, so the end block and chunk count
// ride along with every checkpoint; recovery after a crash must resume
// from the monitored head, not the historical one.
type SessionProgress struct {
	State              SessionState
	LastCompletedChunk int
	TotalChunks        int
	EndBlock           int64
	Accumulator        []byte
}

// TargetKey identifies the unique indexing target of the session
func (s *IndexerSession) TargetKey() string {
	return SessionTargetKey(s.UserID, s.ContractAddress, s.Chain)
}

// SessionTargetKey builds the key the single-active-session invariant is
// enforced on
func SessionTargetKey(userID, contractAddress, chain string) string {
	return userID + "|" + contractAddress + "|" + chain
}

// Range returns the session's indexing range
func (s *IndexerSession) Range() IndexingRange {
	var deployment int64
	if s.DeploymentBlock != nil {
		deployment = *s.DeploymentBlock
	}
	return IndexingRange{
		ContractAddress: s.ContractAddress,
		Chain:           s.Chain,
		DeploymentBlock: deployment,
		StartBlock:      s.StartBlock,
		EndBlock:        s.EndBlock,
	}
}

// Progress returns percent complete over the planned chunks
func (s *IndexerSession) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	pct := float64(s.LastCompletedChunk+1) / float64(s.TotalChunks) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
