package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// MockSessionRepository is an in-memory SessionRepository
type MockSessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]entities.IndexerSession

	// Function hooks for custom behavior
	GetFunc            func(ctx context.Context, sessionID string) (*entities.IndexerSession, error)
	UpsertFunc         func(ctx context.Context, session *entities.IndexerSession) error
	UpdateProgressFunc func(ctx context.Context, sessionID string, progress entities.SessionProgress) error
	UpdateStateFunc    func(ctx context.Context, sessionID string, state entities.SessionState, lastError string) error
	ListByStatesFunc   func(ctx context.Context, states ...entities.SessionState) ([]entities.IndexerSession, error)

	// Call tracking
	Calls []MockCall
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{
		sessions: make(map[string]entities.IndexerSession),
		Calls:    make([]MockCall, 0),
	}
}

func (m *MockSessionRepository) Get(ctx context.Context, sessionID string) (*entities.IndexerSession, error) {
	m.record("Get", sessionID)

	if m.GetFunc != nil {
		return m.GetFunc(ctx, sessionID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (m *MockSessionRepository) Upsert(ctx context.Context, session *entities.IndexerSession) error {
	m.record("Upsert", session.SessionID)

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, session)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = *session
	return nil
}

func (m *MockSessionRepository) UpdateProgress(ctx context.Context, sessionID string, progress entities.SessionProgress) error {
	m.record("UpdateProgress", sessionID, progress.State, progress.LastCompletedChunk)

	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, sessionID, progress)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	session.State = progress.State
	session.LastCompletedChunk = progress.LastCompletedChunk
	session.TotalChunks = progress.TotalChunks
	session.EndBlock = progress.EndBlock
	session.AccumulatorSnapshot = progress.Accumulator
	m.sessions[sessionID] = session
	return nil
}

func (m *MockSessionRepository) UpdateState(ctx context.Context, sessionID string, state entities.SessionState, lastError string) error {
	m.record("UpdateState", sessionID, state, lastError)

	if m.UpdateStateFunc != nil {
		return m.UpdateStateFunc(ctx, sessionID, state, lastError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	session.State = state
	session.LastError = lastError
	m.sessions[sessionID] = session
	return nil
}

func (m *MockSessionRepository) ListByStates(ctx context.Context, states ...entities.SessionState) ([]entities.IndexerSession, error) {
	m.record("ListByStates", states)

	if m.ListByStatesFunc != nil {
		return m.ListByStatesFunc(ctx, states...)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entities.IndexerSession
	for _, session := range m.sessions {
		for _, state := range states {
			if session.State == state {
				out = append(out, session)
				break
			}
		}
	}
	return out, nil
}

// Stored returns the persisted copy of a session
func (m *MockSessionRepository) Stored(sessionID string) (entities.IndexerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// Seed stores a session directly without call tracking
func (m *MockSessionRepository) Seed(session entities.IndexerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = session
}

func (m *MockSessionRepository) record(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// MockDeploymentRepository is an in-memory DeploymentRepository
type MockDeploymentRepository struct {
	mu          sync.RWMutex
	deployments map[string]entities.Deployment

	GetFunc func(ctx context.Context, contractAddress, chain string) (*entities.Deployment, error)
	PutFunc func(ctx context.Context, deployment *entities.Deployment) error

	Calls []MockCall
}

func NewMockDeploymentRepository() *MockDeploymentRepository {
	return &MockDeploymentRepository{
		deployments: make(map[string]entities.Deployment),
		Calls:       make([]MockCall, 0),
	}
}

func (m *MockDeploymentRepository) Get(ctx context.Context, contractAddress, chain string) (*entities.Deployment, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Get", Args: []interface{}{contractAddress, chain}})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, contractAddress, chain)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	deployment, ok := m.deployments[chain+":"+contractAddress]
	if !ok {
		return nil, nil
	}
	return &deployment, nil
}

func (m *MockDeploymentRepository) Put(ctx context.Context, deployment *entities.Deployment) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Put", Args: []interface{}{deployment.ContractAddress, deployment.Chain}})
	m.mu.Unlock()

	if m.PutFunc != nil {
		return m.PutFunc(ctx, deployment)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[deployment.Chain+":"+deployment.ContractAddress] = *deployment
	return nil
}

// MockTierLookup is a configurable TierLookup
type MockTierLookup struct {
	mu sync.Mutex

	Tier        entities.Tier
	Err         error
	GetTierFunc func(ctx context.Context, userID string) (*entities.Tier, error)

	Calls []MockCall
}

func NewMockTierLookup(tier entities.Tier) *MockTierLookup {
	return &MockTierLookup{Tier: tier, Calls: make([]MockCall, 0)}
}

func (m *MockTierLookup) GetTier(ctx context.Context, userID string) (*entities.Tier, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetTier", Args: []interface{}{userID}})
	m.mu.Unlock()

	if m.GetTierFunc != nil {
		return m.GetTierFunc(ctx, userID)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	tier := m.Tier
	return &tier, nil
}

// MockChainClient is a scriptable ChainClient
type MockChainClient struct {
	mu sync.Mutex

	ChainName string
	Head      int64
	Records   []entities.ActivityRecord

	BlockNumberFunc      func(ctx context.Context) (int64, error)
	FetchActivityFunc    func(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error)
	ContractExistsAtFunc func(ctx context.Context, contractAddress string, block int64) (bool, error)

	Calls  []MockCall
	Closed bool
}

func NewMockChainClient(chain string) *MockChainClient {
	return &MockChainClient{ChainName: chain, Calls: make([]MockCall, 0)}
}

func (m *MockChainClient) Chain() string {
	return m.ChainName
}

func (m *MockChainClient) BlockNumber(ctx context.Context) (int64, error) {
	m.record("BlockNumber")

	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return m.Head, nil
}

func (m *MockChainClient) FetchActivity(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error) {
	m.record("FetchActivity", contractAddress, fromBlock, toBlock)

	if m.FetchActivityFunc != nil {
		return m.FetchActivityFunc(ctx, contractAddress, fromBlock, toBlock)
	}

	// Default: return the scripted records that fall inside the window.
	var out []entities.ActivityRecord
	for _, rec := range m.Records {
		if rec.BlockNumber >= fromBlock && rec.BlockNumber <= toBlock {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockChainClient) ContractExistsAt(ctx context.Context, contractAddress string, block int64) (bool, error) {
	m.record("ContractExistsAt", contractAddress, block)

	if m.ContractExistsAtFunc != nil {
		return m.ContractExistsAtFunc(ctx, contractAddress, block)
	}
	return true, nil
}

func (m *MockChainClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

// CallCount returns how many times a method was invoked
func (m *MockChainClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

func (m *MockChainClient) record(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// MockHealthChecker reports a fixed health state
type MockHealthChecker struct {
	healthy bool
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	return &MockHealthChecker{healthy: healthy}
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

// MockExplorer is a scriptable explorer lookup
type MockExplorer struct {
	mu sync.Mutex

	Block                 int64
	Err                   error
	FindFirstActivityFunc func(ctx context.Context, chain, contractAddress string) (int64, error)

	Calls []MockCall
}

func NewMockExplorer() *MockExplorer {
	return &MockExplorer{Calls: make([]MockCall, 0)}
}

func (m *MockExplorer) FindFirstActivity(ctx context.Context, chain, contractAddress string) (int64, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "FindFirstActivity", Args: []interface{}{chain, contractAddress}})
	m.mu.Unlock()

	if m.FindFirstActivityFunc != nil {
		return m.FindFirstActivityFunc(ctx, chain, contractAddress)
	}
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Block, nil
}
