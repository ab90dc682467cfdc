package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/arrayqueue"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/domain/repositories"
	"github.com/bimakw/stream-indexer/internal/infrastructure/rpc"
)

var (
	// ErrSessionNotFound means no session with the given ID is known
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition means the requested lifecycle change is not
	// allowed from the session's current state
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// SessionManager owns every indexing session in the process. It enforces
// the single-active-session invariant per (user, contract, chain) target,
// admits at most MaxConcurrentSessions runners at once and queues the
// rest in FIFO order.
type SessionManager struct {
	cfg         config.EngineConfig
	callTimeout time.Duration
	pool        *rpc.Pool
	locator     *DeploymentLocator
	tiers       repositories.TierLookup
	sessions    repositories.SessionRepository
	broadcaster *Broadcaster
	logger      *zap.Logger

	workers *ants.Pool

	mu       sync.Mutex
	byID     map[string]*StreamingIndexer
	byTarget map[string]*StreamingIndexer
	queue    *arrayqueue.Queue

	runCtx    context.Context
	runCancel context.CancelFunc
	wakeCh    chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewSessionManager creates a session manager. Call Start to launch the
// dispatcher before creating sessions.
func NewSessionManager(
	cfg config.EngineConfig,
	callTimeout time.Duration,
	pool *rpc.Pool,
	locator *DeploymentLocator,
	tiers repositories.TierLookup,
	sessions repositories.SessionRepository,
	broadcaster *Broadcaster,
	logger *zap.Logger,
) (*SessionManager, error) {
	// Blocking submits are what turns the worker pool into the session
	// concurrency ceiling: the dispatcher waits for a free worker, and
	// queued sessions keep their arrival order.
	workers, err := ants.NewPool(cfg.MaxConcurrentSessions, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create session worker pool: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	return &SessionManager{
		cfg:         cfg,
		callTimeout: callTimeout,
		pool:        pool,
		locator:     locator,
		tiers:       tiers,
		sessions:    sessions,
		broadcaster: broadcaster,
		logger:      logger,
		workers:     workers,
		byID:        make(map[string]*StreamingIndexer),
		byTarget:    make(map[string]*StreamingIndexer),
		queue:       arrayqueue.New(),
		runCtx:      runCtx,
		runCancel:   runCancel,
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start launches the dispatcher loop
func (m *SessionManager) Start() {
	m.wg.Add(1)
	go m.dispatch()
}

// Stop cancels running sessions and shuts the dispatcher down. Running
// sessions persist their progress per chunk, so a later RecoverSessions
// resumes them where they left off.
func (m *SessionManager) Stop() {
	close(m.stopCh)
	m.runCancel()
	m.wg.Wait()
	m.workers.Release()
}

// StartSession creates and schedules a session for the target, or returns
// the existing one when a non-terminal session for the same target is
// already known
func (m *SessionManager) StartSession(ctx context.Context, userID, contractAddress, chainName, tierName string) (entities.IndexerSession, error) {
	chain, ok := entities.ChainByName(chainName)
	if !ok {
		return entities.IndexerSession{}, fmt.Errorf("unsupported chain %q", chainName)
	}

	targetKey := entities.SessionTargetKey(userID, contractAddress, chainName)

	m.mu.Lock()
	if existing, ok := m.byTarget[targetKey]; ok {
		status := existing.Status()
		m.mu.Unlock()
		return status, nil
	}
	m.mu.Unlock()

	session := &entities.IndexerSession{
		SessionID:          uuid.New().String(),
		UserID:             userID,
		ContractAddress:    contractAddress,
		Chain:              chainName,
		Tier:               tierName,
		State:              entities.SessionCreated,
		LastCompletedChunk: -1,
	}

	if err := m.sessions.Upsert(ctx, session); err != nil {
		return entities.IndexerSession{}, fmt.Errorf("failed to persist session: %w", err)
	}

	indexer := NewStreamingIndexer(
		session, chain,
		m.pool, m.locator, m.tiers, m.sessions, m.broadcaster,
		m.cfg, m.callTimeout, m.logger,
	)

	m.mu.Lock()
	// A racing StartSession may have registered the target while the row
	// was being written; the first registration wins.
	if existing, ok := m.byTarget[targetKey]; ok {
		status := existing.Status()
		m.mu.Unlock()
		return status, nil
	}
	m.byID[session.SessionID] = indexer
	m.byTarget[targetKey] = indexer
	m.queue.Enqueue(indexer)
	m.mu.Unlock()

	sessionsStarted.Inc()
	m.wake()

	m.logger.Info("Session created",
		zap.String("session_id", session.SessionID),
		zap.String("user_id", userID),
		zap.String("chain", chainName),
		zap.String("contract", contractAddress),
	)

	return indexer.Status(), nil
}

// Pause suspends a running session after its in-flight chunk
func (m *SessionManager) Pause(sessionID string) error {
	indexer, err := m.indexer(sessionID)
	if err != nil {
		return err
	}

	switch state := indexer.State(); state {
	case entities.SessionIndexing, entities.SessionMonitoring:
		indexer.Pause()
		return nil
	default:
		return fmt.Errorf("%w: cannot pause session in state %s", ErrInvalidTransition, state)
	}
}

// Resume puts a paused session back onto the scheduling queue
func (m *SessionManager) Resume(sessionID string) error {
	indexer, err := m.indexer(sessionID)
	if err != nil {
		return err
	}

	if state := indexer.State(); state != entities.SessionPaused {
		return fmt.Errorf("%w: cannot resume session in state %s", ErrInvalidTransition, state)
	}

	m.mu.Lock()
	m.queue.Enqueue(indexer)
	m.mu.Unlock()
	m.wake()
	return nil
}

// StopSession terminates a session. Paused and still-queued sessions are
// stopped in place; running ones stop after the in-flight chunk.
func (m *SessionManager) StopSession(ctx context.Context, sessionID string) error {
	indexer, err := m.indexer(sessionID)
	if err != nil {
		return err
	}

	switch state := indexer.State(); state {
	case entities.SessionStopped, entities.SessionErrored:
		return fmt.Errorf("%w: session already in state %s", ErrInvalidTransition, state)
	case entities.SessionPaused, entities.SessionCreated:
		indexer.Stop()
		if err := m.sessions.UpdateState(ctx, sessionID, entities.SessionStopped, ""); err != nil {
			return fmt.Errorf("failed to persist stopped state: %w", err)
		}
		indexer.setState(entities.SessionStopped)
		m.finalize(indexer, entities.SessionStopped)
		m.broadcaster.Publish(entities.SessionEvent{
			SessionID: sessionID,
			Type:      entities.EventCompletion,
			Message:   "session stopped",
		})
		return nil
	default:
		indexer.Stop()
		return nil
	}
}

// Status returns a snapshot of the session, falling back to the database
// for sessions no longer held in memory
func (m *SessionManager) Status(ctx context.Context, sessionID string) (entities.IndexerSession, error) {
	m.mu.Lock()
	indexer, ok := m.byID[sessionID]
	m.mu.Unlock()

	if ok {
		return indexer.Status(), nil
	}

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return entities.IndexerSession{}, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return entities.IndexerSession{}, ErrSessionNotFound
	}
	return *session, nil
}

// RecoverSessions reloads non-terminal sessions from the database after a
// restart. Interrupted sessions go back onto the queue; paused ones are
// registered so Resume still works.
func (m *SessionManager) RecoverSessions(ctx context.Context) error {
	stale, err := m.sessions.ListByStates(ctx,
		entities.SessionCreated,
		entities.SessionLocating,
		entities.SessionIndexing,
		entities.SessionMonitoring,
		entities.SessionPaused,
	)
	if err != nil {
		return fmt.Errorf("failed to list recoverable sessions: %w", err)
	}

	recovered := 0
	for _, session := range stale {
		chain, ok := entities.ChainByName(session.Chain)
		if !ok {
			m.logger.Warn("Skipping session on unknown chain",
				zap.String("session_id", session.SessionID),
				zap.String("chain", session.Chain),
			)
			continue
		}

		indexer := NewStreamingIndexer(
			&session, chain,
			m.pool, m.locator, m.tiers, m.sessions, m.broadcaster,
			m.cfg, m.callTimeout, m.logger,
		)

		m.mu.Lock()
		m.byID[session.SessionID] = indexer
		m.byTarget[session.TargetKey()] = indexer
		if session.State != entities.SessionPaused {
			m.queue.Enqueue(indexer)
		}
		m.mu.Unlock()
		recovered++
	}

	if recovered > 0 {
		m.wake()
		m.logger.Info("Recovered sessions", zap.Int("count", recovered))
	}
	return nil
}

// ActiveSessions returns how many sessions are registered and not yet
// finalized
func (m *SessionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTarget)
}

func (m *SessionManager) indexer(sessionID string) (*StreamingIndexer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indexer, ok := m.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return indexer, nil
}

// wake nudges the dispatcher; a full channel means a wake is already
// pending, which covers this enqueue too
func (m *SessionManager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *SessionManager) dispatch() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
		}

		for {
			m.mu.Lock()
			next, ok := m.queue.Dequeue()
			m.mu.Unlock()
			if !ok {
				break
			}

			indexer := next.(*StreamingIndexer)

			// A queued session may have been stopped before it ever ran.
			if indexer.State().Terminal() {
				continue
			}

			select {
			case <-m.stopCh:
				return
			default:
			}

			// Blocks until a worker slot frees up.
			err := m.workers.Submit(func() {
				indexer.Run(m.runCtx)

				state := indexer.State()
				if state.Terminal() {
					m.finalize(indexer, state)
				}
			})
			if err != nil {
				m.logger.Error("Failed to schedule session",
					zap.String("session_id", indexer.Status().SessionID),
					zap.Error(err),
				)
			}
		}
	}
}

// finalize releases the target slot of a terminal session. The session
// stays addressable by ID for status reads; only the target key is freed
// so a new session for the same target may start.
func (m *SessionManager) finalize(indexer *StreamingIndexer, state entities.SessionState) {
	status := indexer.Status()

	m.mu.Lock()
	if m.byTarget[status.TargetKey()] == indexer {
		delete(m.byTarget, status.TargetKey())
	}
	m.mu.Unlock()

	m.logger.Info("Session finalized",
		zap.String("session_id", status.SessionID),
		zap.String("state", string(state)),
	)
}
