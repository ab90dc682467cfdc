package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/domain/repositories"
	"github.com/bimakw/stream-indexer/internal/infrastructure/rpc"
)

// StreamingIndexer drives the indexing state machine for one session:
// Created -> LocatingDeployment -> Indexing -> Monitoring (continuous-sync
// tiers) or Stopped (one-shot tiers). Chunk processing is strictly
// sequential; the accumulator and the horizontal validator both depend on
// ordered chunk application.
type StreamingIndexer struct {
	session     *entities.IndexerSession
	chain       entities.Chain
	pool        *rpc.Pool
	locator     *DeploymentLocator
	tiers       repositories.TierLookup
	sessions    repositories.SessionRepository
	broadcaster *Broadcaster
	cfg         config.EngineConfig
	callTimeout time.Duration
	logger      *zap.Logger

	mu             sync.RWMutex
	pauseRequested bool
	stopRequested  bool

	tier        entities.Tier
	accumulator *entities.Accumulator
	tail        *entities.ChunkTail
}

// NewStreamingIndexer creates an indexer for one session
func NewStreamingIndexer(
	session *entities.IndexerSession,
	chain entities.Chain,
	pool *rpc.Pool,
	locator *DeploymentLocator,
	tiers repositories.TierLookup,
	sessions repositories.SessionRepository,
	broadcaster *Broadcaster,
	cfg config.EngineConfig,
	callTimeout time.Duration,
	logger *zap.Logger,
) *StreamingIndexer {
	return &StreamingIndexer{
		session:     session,
		chain:       chain,
		pool:        pool,
		locator:     locator,
		tiers:       tiers,
		sessions:    sessions,
		broadcaster: broadcaster,
		cfg:         cfg,
		callTimeout: callTimeout,
		logger: logger.With(
			zap.String("session_id", session.SessionID),
			zap.String("chain", session.Chain),
			zap.String("contract", session.ContractAddress),
		),
	}
}

// Status returns a copy of the session
func (s *StreamingIndexer) Status() entities.IndexerSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.session
}

// State returns the current lifecycle state
func (s *StreamingIndexer) State() entities.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.State
}

// Pause asks the session to stop pulling chunks after the in-flight one
func (s *StreamingIndexer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseRequested = true
}

// Stop asks the session to terminate after the in-flight chunk
func (s *StreamingIndexer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
}

// Run executes the session until it is done, paused, stopped or the
// context is cancelled. A paused session is re-run later; Run then
// recomputes the chunk plan and resumes after the last completed chunk.
func (s *StreamingIndexer) Run(ctx context.Context) {
	if s.State().Terminal() {
		return
	}

	s.mu.Lock()
	s.pauseRequested = false
	s.mu.Unlock()

	sessionsActive.Inc()
	defer sessionsActive.Dec()

	err := s.run(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Process shutdown: leave the persisted state as-is so the
		// session is recovered on the next boot.
		s.logger.Info("Session interrupted by shutdown")
		return
	}
	s.fail(err)
}

func (s *StreamingIndexer) run(ctx context.Context) error {
	tier, err := s.tiers.GetTier(ctx, s.session.UserID)
	if err != nil {
		return fmt.Errorf("tier lookup failed: %w", err)
	}
	s.mu.Lock()
	s.tier = *tier
	s.session.Tier = tier.Name
	s.mu.Unlock()

	if err := s.resolveRange(ctx); err != nil {
		return err
	}

	plan := NewChunkPlan(s.session.Range(), s.cfg.ChunkSize)
	if err := s.restoreProgress(plan); err != nil {
		return err
	}

	s.setState(entities.SessionIndexing)
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("persistence failed: %w", err)
	}
	s.broadcastProgress("indexing")

	for i := s.session.LastCompletedChunk + 1; i < plan.Len(); i++ {
		if done, err := s.checkInterrupt(ctx); done || err != nil {
			return err
		}
		if err := s.processChunk(ctx, &plan.Chunks[i]); err != nil {
			return err
		}
	}

	if s.tier.ContinuousSync {
		s.setState(entities.SessionMonitoring)
		if err := s.persist(ctx); err != nil {
			return fmt.Errorf("persistence failed: %w", err)
		}
		s.broadcastCompletion("historical range indexed, monitoring for new blocks")
		return s.monitorLoop(ctx)
	}

	s.setState(entities.SessionStopped)
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("persistence failed: %w", err)
	}
	s.broadcastCompletion("indexing complete")
	return nil
}

// resolveRange locates the deployment and fixes the session's block range
// on first run. Resumed sessions reuse the persisted range so the chunk
// plan stays identical.
func (s *StreamingIndexer) resolveRange(ctx context.Context) error {
	if s.session.EndBlock > 0 {
		return nil
	}

	s.setState(entities.SessionLocating)
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("persistence failed: %w", err)
	}
	s.broadcastProgress("locating contract deployment")

	current, err := s.currentBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current block: %w", err)
	}

	if s.session.DeploymentBlock == nil {
		deployment, err := s.locator.Locate(ctx, s.session.ContractAddress, s.session.Chain, current)
		if err != nil {
			return fmt.Errorf("deployment location failed: %w", err)
		}
		s.mu.Lock()
		s.session.DeploymentBlock = &deployment.BlockNumber
		s.session.DeploymentApproximate = deployment.Approximate
		s.mu.Unlock()
	}

	rng, err := ResolveRange(s.tier, s.chain, *s.session.DeploymentBlock, current)
	if err != nil {
		return fmt.Errorf("range resolution failed: %w", err)
	}

	s.mu.Lock()
	s.session.StartBlock = rng.StartBlock
	s.session.EndBlock = rng.EndBlock
	s.mu.Unlock()

	s.logger.Info("Resolved indexing range",
		zap.String("tier", s.tier.Name),
		zap.Int64("deployment_block", rng.DeploymentBlock),
		zap.Int64("start_block", rng.StartBlock),
		zap.Int64("end_block", rng.EndBlock),
	)
	return nil
}

// restoreProgress reloads the accumulator snapshot and re-marks chunks a
// previous run already validated
func (s *StreamingIndexer) restoreProgress(plan *ChunkPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.session.LastCompletedChunk

	// A session that crashed while monitoring has chunks beyond the
	// historical plan; keep their count so the next monitoring chunk gets
	// the next index.
	s.session.TotalChunks = plan.Len()
	if last+1 > plan.Len() {
		s.session.TotalChunks = last + 1
	}

	if s.accumulator == nil {
		s.accumulator = entities.NewAccumulator()
		if len(s.session.AccumulatorSnapshot) > 0 {
			if err := json.Unmarshal(s.session.AccumulatorSnapshot, s.accumulator); err != nil {
				return fmt.Errorf("failed to restore accumulator snapshot: %w", err)
			}
		}
	}

	for i := 0; i <= last && i < plan.Len(); i++ {
		plan.Chunks[i].Status = entities.ChunkValidated
	}

	// After a restart the previous chunk's exact tail is gone. Its end
	// block still bounds everything it may have contained: the planned end
	// for a historical chunk, the persisted session end for a monitoring
	// chunk.
	if s.tail == nil && last >= 0 {
		maxBlock := s.session.EndBlock
		if last < plan.Len() {
			maxBlock = plan.Chunks[last].ToBlock
		}
		s.tail = &entities.ChunkTail{
			ChunkIndex: last,
			MaxBlock:   maxBlock,
			TxHashes:   make(map[string]bool),
		}
	}
	return nil
}

// processChunk runs the fetch -> validate -> accumulate -> persist ->
// broadcast pipeline for one chunk, retrying on a rotated endpoint with
// exponential backoff up to the retry ceiling
func (s *StreamingIndexer) processChunk(ctx context.Context, chunk *entities.Chunk) error {
	timer := time.Now()
	defer func() {
		chunkFetchDuration.WithLabelValues(s.chain.Name).Observe(time.Since(timer).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxChunkRetries; attempt++ {
		if attempt > 0 {
			chunkRetries.WithLabelValues(s.chain.Name).Inc()
			delay := s.cfg.RetryBaseDelay * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		chunk.Status = entities.ChunkFetching
		result, err := s.fetchChunk(ctx, *chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chunk.Status = entities.ChunkFailed
			lastErr = err
			s.logger.Warn("Chunk fetch failed",
				zap.Int("chunk", chunk.Index),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		ok, issues := ValidateHorizontal(s.tail, result)
		if !ok {
			chunk.Status = entities.ChunkFailed
			lastErr = fmt.Errorf("chunk %d failed validation: %s", chunk.Index, strings.Join(issues, "; "))
			s.logger.Warn("Chunk failed horizontal validation",
				zap.Int("chunk", chunk.Index),
				zap.Strings("issues", issues),
			)
			continue
		}

		return s.commitChunk(ctx, chunk, result)
	}

	return fmt.Errorf("chunk %d exhausted retry budget: %w", chunk.Index, lastErr)
}

// commitChunk applies a validated result and durably records progress.
// Progress is persisted before the broadcast so a crash can only lose the
// in-flight chunk, never committed history.
func (s *StreamingIndexer) commitChunk(ctx context.Context, chunk *entities.Chunk, result *entities.ChunkResult) error {
	if err := s.accumulator.Apply(chunk.Index, result.Records); err != nil {
		return fmt.Errorf("accumulator rejected chunk %d: %w", chunk.Index, err)
	}
	chunk.Status = entities.ChunkValidated
	s.tail = result.Tail()

	snapshot, err := json.Marshal(s.accumulator)
	if err != nil {
		return fmt.Errorf("failed to encode accumulator snapshot: %w", err)
	}

	s.mu.Lock()
	s.session.LastCompletedChunk = chunk.Index
	s.session.AccumulatorSnapshot = snapshot
	progress := entities.SessionProgress{
		State:              s.session.State,
		LastCompletedChunk: chunk.Index,
		TotalChunks:        s.session.TotalChunks,
		EndBlock:           s.session.EndBlock,
		Accumulator:        snapshot,
	}
	s.mu.Unlock()

	if err := s.sessions.UpdateProgress(ctx, s.session.SessionID, progress); err != nil {
		return fmt.Errorf("persistence failed for chunk %d: %w", chunk.Index, err)
	}

	chunksValidated.WithLabelValues(s.chain.Name).Inc()

	s.broadcastProgress(fmt.Sprintf("validated blocks %d-%d", chunk.FromBlock, chunk.ToBlock))
	s.broadcastMetrics()

	s.logger.Debug("Chunk validated",
		zap.Int("chunk", chunk.Index),
		zap.Int64("from_block", chunk.FromBlock),
		zap.Int64("to_block", chunk.ToBlock),
		zap.Int("records", len(result.Records)),
	)
	return nil
}

// fetchChunk performs one fetch attempt through the endpoint pool
func (s *StreamingIndexer) fetchChunk(ctx context.Context, chunk entities.Chunk) (*entities.ChunkResult, error) {
	client, endpoint, err := s.pool.Acquire(s.session.Chain)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	records, err := client.FetchActivity(callCtx, s.session.ContractAddress, chunk.FromBlock, chunk.ToBlock)
	if err != nil {
		s.pool.ReportFailure(s.session.Chain, endpoint.URL, err)
		return nil, err
	}
	s.pool.ReportSuccess(s.session.Chain, endpoint.URL, time.Since(start))

	return &entities.ChunkResult{Chunk: chunk, Records: records}, nil
}

// currentBlock resolves the chain head, rotating endpoints on failure
func (s *StreamingIndexer) currentBlock(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < probeAttempts; attempt++ {
		client, endpoint, err := s.pool.Acquire(s.session.Chain)
		if err != nil {
			return 0, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		start := time.Now()
		current, err := client.BlockNumber(callCtx)
		cancel()
		if err != nil {
			s.pool.ReportFailure(s.session.Chain, endpoint.URL, err)
			lastErr = err
			continue
		}
		s.pool.ReportSuccess(s.session.Chain, endpoint.URL, time.Since(start))
		return current, nil
	}
	return 0, fmt.Errorf("head lookup failed after %d attempts: %w", probeAttempts, lastErr)
}

// monitorLoop keeps a continuous-sync session fresh: on every tick it
// synthesizes one chunk covering the blocks produced since the last
// validated end and runs it through the same pipeline. Already-validated
// ranges are never re-fetched.
func (s *StreamingIndexer) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	lastEnd := s.session.EndBlock
	nextIndex := s.session.LastCompletedChunk + 1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if done, err := s.checkInterrupt(ctx); done || err != nil {
			return err
		}

		current, err := s.currentBlock(ctx)
		if err != nil {
			// Transient: stay in monitoring, the next tick retries.
			s.logger.Warn("Monitoring head lookup failed", zap.Error(err))
			continue
		}
		if current <= lastEnd {
			continue
		}

		chunk := entities.Chunk{
			Index:     nextIndex,
			FromBlock: lastEnd + 1,
			ToBlock:   current,
			Status:    entities.ChunkPending,
		}

		s.mu.Lock()
		s.session.TotalChunks = nextIndex + 1
		s.session.EndBlock = current
		s.mu.Unlock()

		if err := s.processChunk(ctx, &chunk); err != nil {
			return err
		}

		lastEnd = current
		nextIndex++
	}
}

// checkInterrupt handles pause and stop requests between chunks. It
// returns done=true when the run should end without error.
func (s *StreamingIndexer) checkInterrupt(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	s.mu.RLock()
	pause, stop := s.pauseRequested, s.stopRequested
	s.mu.RUnlock()

	if stop {
		s.setState(entities.SessionStopped)
		if err := s.persist(ctx); err != nil {
			return false, fmt.Errorf("persistence failed: %w", err)
		}
		s.broadcastCompletion("session stopped")
		return true, nil
	}
	if pause {
		s.setState(entities.SessionPaused)
		if err := s.persist(ctx); err != nil {
			return false, fmt.Errorf("persistence failed: %w", err)
		}
		s.broadcastProgress("session paused")
		return true, nil
	}
	return false, nil
}

// fail marks the session terminally errored and surfaces the reason
func (s *StreamingIndexer) fail(cause error) {
	s.logger.Error("Session errored", zap.Error(cause))
	sessionErrors.WithLabelValues(errorReason(cause)).Inc()

	s.mu.Lock()
	s.session.State = entities.SessionErrored
	s.session.LastError = cause.Error()
	s.mu.Unlock()

	// The run context may already be gone; give the terminal write its
	// own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sessions.UpdateState(ctx, s.session.SessionID, entities.SessionErrored, cause.Error()); err != nil {
		s.logger.Error("Failed to persist errored state", zap.Error(err))
	}

	s.broadcaster.Publish(entities.SessionEvent{
		SessionID: s.session.SessionID,
		Type:      entities.EventError,
		Error:     cause.Error(),
	})
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrDeploymentUnknown):
		return "deployment_unknown"
	case strings.Contains(err.Error(), "tier lookup"):
		return "tier_lookup"
	case strings.Contains(err.Error(), "persistence"):
		return "persistence"
	default:
		return "chunk"
	}
}

func (s *StreamingIndexer) setState(state entities.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.State = state
}

// persist writes the full session row
func (s *StreamingIndexer) persist(ctx context.Context) error {
	s.mu.RLock()
	session := *s.session
	s.mu.RUnlock()
	return s.sessions.Upsert(ctx, &session)
}

func (s *StreamingIndexer) broadcastProgress(message string) {
	s.mu.RLock()
	progress := s.session.Progress()
	s.mu.RUnlock()

	s.broadcaster.Publish(entities.SessionEvent{
		SessionID: s.session.SessionID,
		Type:      entities.EventProgress,
		Progress:  &progress,
		Message:   message,
	})
}

func (s *StreamingIndexer) broadcastMetrics() {
	snapshot := s.accumulator.Snapshot()
	s.broadcaster.Publish(entities.SessionEvent{
		SessionID: s.session.SessionID,
		Type:      entities.EventMetrics,
		Metrics:   &snapshot,
	})
}

func (s *StreamingIndexer) broadcastCompletion(message string) {
	progress := 100.0
	s.broadcaster.Publish(entities.SessionEvent{
		SessionID: s.session.SessionID,
		Type:      entities.EventCompletion,
		Progress:  &progress,
		Message:   message,
	})
}
