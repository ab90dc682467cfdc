package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/testutil"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ChunkSize:                300,
		MaxChunkRetries:          2,
		RetryBaseDelay:           time.Millisecond,
		MonitorInterval:          5 * time.Millisecond,
		MaxConcurrentSessions:    2,
		DeploymentLookbackBlocks: 1000,
	}
}

type indexerFixture struct {
	session     *entities.IndexerSession
	client      *testutil.MockChainClient
	repo        *testutil.MockSessionRepository
	deployments *testutil.MockDeploymentRepository
	tiers       *testutil.MockTierLookup
	broadcaster *Broadcaster
	indexer     *StreamingIndexer
}

// newIndexerFixture wires an indexer against a chain where the contract
// deploys at block 100 and the head sits at 999. With a 300-block chunk
// size the historical range [100, 999] plans into 3 chunks.
func newIndexerFixture(t *testing.T, session entities.IndexerSession, tier entities.Tier) *indexerFixture {
	t.Helper()

	client := testutil.NewMockChainClient("ethereum")
	client.Head = 999
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return block >= 100, nil
	}
	client.Records = testutil.CreateTestRecords(session.ContractAddress, 100, 999)

	pool := locatorPool(t, client)
	deployments := testutil.NewMockDeploymentRepository()
	locator := NewDeploymentLocator(pool, nil, deployments, nil, 1000, zap.NewNop())

	repo := testutil.NewMockSessionRepository()
	repo.Seed(session)

	tiers := testutil.NewMockTierLookup(tier)
	broadcaster := NewBroadcaster(zap.NewNop())

	chain, _ := entities.ChainByName("ethereum")
	sessionCopy := session
	indexer := NewStreamingIndexer(
		&sessionCopy, chain,
		pool, locator, tiers, repo, broadcaster,
		testEngineConfig(), 5*time.Second, zap.NewNop(),
	)

	return &indexerFixture{
		session:     &sessionCopy,
		client:      client,
		repo:        repo,
		deployments: deployments,
		tiers:       tiers,
		broadcaster: broadcaster,
		indexer:     indexer,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamingIndexer_HistoricalRun(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped, got %s (%s)", status.State, status.LastError)
	}
	if status.DeploymentBlock == nil || *status.DeploymentBlock != 100 {
		t.Errorf("expected deployment block 100, got %v", status.DeploymentBlock)
	}
	if status.StartBlock != 100 || status.EndBlock != 999 {
		t.Errorf("expected range [100, 999], got [%d, %d]", status.StartBlock, status.EndBlock)
	}
	if status.TotalChunks != 3 {
		t.Errorf("expected 3 chunks, got %d", status.TotalChunks)
	}
	if status.LastCompletedChunk != 2 {
		t.Errorf("expected last completed chunk 2, got %d", status.LastCompletedChunk)
	}
	if status.Progress() != 100 {
		t.Errorf("expected progress 100, got %f", status.Progress())
	}

	var acc entities.Accumulator
	if err := json.Unmarshal(status.AccumulatorSnapshot, &acc); err != nil {
		t.Fatalf("bad accumulator snapshot: %v", err)
	}
	if acc.EventCount != 900 {
		t.Errorf("expected 900 events accumulated, got %d", acc.EventCount)
	}
	if acc.TransactionCount != 900 {
		t.Errorf("expected 900 transactions, got %d", acc.TransactionCount)
	}

	stored, ok := f.repo.Stored(status.SessionID)
	if !ok {
		t.Fatal("expected session persisted")
	}
	if stored.State != entities.SessionStopped {
		t.Errorf("expected persisted state stopped, got %s", stored.State)
	}
}

func TestStreamingIndexer_BroadcastsLifecycleEvents(t *testing.T) {
	session := testutil.CreateTestSession(testutil.WithoutRange())
	f := newIndexerFixture(t, session, testutil.FreeTier)

	events, cancel := f.broadcaster.Subscribe(session.SessionID)
	defer cancel()

	f.indexer.Run(context.Background())

	var sawProgress, sawMetrics, sawCompletion bool
drain:
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case entities.EventProgress:
				sawProgress = true
			case entities.EventMetrics:
				sawMetrics = true
				if ev.Metrics == nil {
					t.Error("metrics event without accumulator payload")
				}
			case entities.EventCompletion:
				sawCompletion = true
			}
		default:
			break drain
		}
	}

	if !sawProgress || !sawMetrics || !sawCompletion {
		t.Errorf("missing event types: progress=%v metrics=%v completion=%v",
			sawProgress, sawMetrics, sawCompletion)
	}
}

func TestStreamingIndexer_TierLookupFailure(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)
	f.tiers.Err = errors.New("billing unavailable")

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionErrored {
		t.Fatalf("expected errored, got %s", status.State)
	}
	if status.LastError == "" {
		t.Error("expected last error recorded")
	}

	stored, _ := f.repo.Stored(status.SessionID)
	if stored.State != entities.SessionErrored {
		t.Errorf("expected persisted errored state, got %s", stored.State)
	}
}

func TestStreamingIndexer_DeploymentUnknown(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)
	f.client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return false, nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionErrored {
		t.Fatalf("expected errored, got %s", status.State)
	}
}

func TestStreamingIndexer_RetriesFailedChunk(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	var attempts int32
	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("transient rpc error")
		}
		return testutil.CreateTestRecords(addr, from, to), nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped after retry, got %s (%s)", status.State, status.LastError)
	}
	// 3 chunks plus one retried attempt.
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Errorf("expected 4 fetch attempts, got %d", got)
	}
}

func TestStreamingIndexer_RetriesValidationFailure(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	var attempts int32
	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// Records outside the chunk range fail containment.
			return testutil.CreateTestRecords(addr, to+1, to+3), nil
		}
		return testutil.CreateTestRecords(addr, from, to), nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped after validation retry, got %s (%s)", status.State, status.LastError)
	}
}

func TestStreamingIndexer_RetryBudgetExhausted(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		return nil, errors.New("rpc down")
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionErrored {
		t.Fatalf("expected errored after exhausting retries, got %s", status.State)
	}
	if status.LastError == "" {
		t.Error("expected last error recorded")
	}
}

func TestStreamingIndexer_PersistenceFailureErrors(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	f.repo.UpdateProgressFunc = func(ctx context.Context, id string, progress entities.SessionProgress) error {
		return errors.New("db down")
	}

	f.indexer.Run(context.Background())

	if status := f.indexer.Status(); status.State != entities.SessionErrored {
		t.Fatalf("expected errored on persistence failure, got %s", status.State)
	}
}

func TestStreamingIndexer_PauseBetweenChunks(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	// Request the pause while the first chunk is in flight; it takes
	// effect after that chunk commits.
	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		f.indexer.Pause()
		return testutil.CreateTestRecords(addr, from, to), nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionPaused {
		t.Fatalf("expected paused, got %s", status.State)
	}
	if status.LastCompletedChunk != 0 {
		t.Errorf("expected in-flight chunk committed before pausing, got %d", status.LastCompletedChunk)
	}

	// A later Run picks up after the completed chunk.
	f.client.FetchActivityFunc = nil
	f.indexer.Run(context.Background())

	status = f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped after resumed run, got %s (%s)", status.State, status.LastError)
	}
	if status.LastCompletedChunk != 2 {
		t.Errorf("expected all chunks completed, got %d", status.LastCompletedChunk)
	}
}

func TestStreamingIndexer_StopBetweenChunks(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		f.indexer.Stop()
		return testutil.CreateTestRecords(addr, from, to), nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped, got %s", status.State)
	}
	if status.LastCompletedChunk != 0 {
		t.Errorf("expected only the in-flight chunk committed, got %d", status.LastCompletedChunk)
	}
}

func TestStreamingIndexer_ResumeAfterRestart(t *testing.T) {
	// Simulate a process restart after chunk 1: the session row carries the
	// progress and the accumulator snapshot, the in-memory tail is gone.
	records := testutil.CreateTestRecords(testutil.USDTAddress, 100, 999)
	acc := entities.NewAccumulator()
	byChunk := func(from, to int64) []entities.ActivityRecord {
		var out []entities.ActivityRecord
		for _, r := range records {
			if r.BlockNumber >= from && r.BlockNumber <= to {
				out = append(out, r)
			}
		}
		return out
	}
	if err := acc.Apply(0, byChunk(100, 399)); err != nil {
		t.Fatal(err)
	}
	if err := acc.Apply(1, byChunk(400, 699)); err != nil {
		t.Fatal(err)
	}
	snapshot, err := json.Marshal(acc)
	if err != nil {
		t.Fatal(err)
	}

	session := testutil.CreateTestSession(
		testutil.WithState(entities.SessionIndexing),
		testutil.WithDeploymentBlock(100),
		testutil.WithBlocks(100, 999),
		testutil.WithProgress(3, 1),
	)
	session.AccumulatorSnapshot = snapshot

	f := newIndexerFixture(t, session, testutil.FreeTier)

	var fetched []int64
	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		fetched = append(fetched, from)
		return byChunk(from, to), nil
	}

	f.indexer.Run(context.Background())

	status := f.indexer.Status()
	if status.State != entities.SessionStopped {
		t.Fatalf("expected stopped, got %s (%s)", status.State, status.LastError)
	}

	// Only the chunk after the last completed one is fetched.
	if len(fetched) != 1 || fetched[0] != 700 {
		t.Errorf("expected a single fetch from block 700, got %v", fetched)
	}

	var restored entities.Accumulator
	if err := json.Unmarshal(status.AccumulatorSnapshot, &restored); err != nil {
		t.Fatal(err)
	}
	if restored.EventCount != 900 {
		t.Errorf("expected 900 events after resume, got %d", restored.EventCount)
	}
}

func TestStreamingIndexer_MonitoringResumesFromPersistedHead(t *testing.T) {
	// A monitoring session dies mid-flight after validating one synthesized
	// chunk. The persisted row must carry the monitored head, and a session
	// rebuilt from that row must never re-fetch blocks it already validated.
	records := testutil.CreateTestRecords(testutil.USDTAddress, 100, 1199)
	byChunk := func(from, to int64) []entities.ActivityRecord {
		var out []entities.ActivityRecord
		for _, r := range records {
			if r.BlockNumber >= from && r.BlockNumber <= to {
				out = append(out, r)
			}
		}
		return out
	}

	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.ProTier)

	var head atomic.Int64
	head.Store(999)
	f.client.BlockNumberFunc = func(ctx context.Context) (int64, error) {
		return head.Load(), nil
	}
	f.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		return byChunk(from, to), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.indexer.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, "monitoring state", func() bool {
		return f.indexer.State() == entities.SessionMonitoring
	})
	head.Store(1099)
	waitFor(t, 2*time.Second, "monitoring chunk", func() bool {
		return f.indexer.Status().LastCompletedChunk == 3
	})

	// Kill the process mid-monitoring.
	cancel()
	<-done

	sessionID := f.indexer.Status().SessionID
	stored, ok := f.repo.Stored(sessionID)
	if !ok {
		t.Fatal("expected session persisted")
	}
	if stored.State != entities.SessionMonitoring {
		t.Fatalf("expected persisted monitoring state, got %s", stored.State)
	}
	if stored.EndBlock != 1099 {
		t.Fatalf("expected persisted end block 1099, got %d", stored.EndBlock)
	}
	if stored.LastCompletedChunk != 3 || stored.TotalChunks != 4 {
		t.Fatalf("expected persisted chunks 3/4, got %d/%d",
			stored.LastCompletedChunk, stored.TotalChunks)
	}

	// Rebuild an indexer from the persisted row, with the chain ahead of
	// the monitored head.
	r := newIndexerFixture(t, stored, testutil.ProTier)

	var head2 atomic.Int64
	head2.Store(1199)
	r.client.BlockNumberFunc = func(ctx context.Context) (int64, error) {
		return head2.Load(), nil
	}

	var mu sync.Mutex
	var fetched []int64
	r.client.FetchActivityFunc = func(ctx context.Context, addr string, from, to int64) ([]entities.ActivityRecord, error) {
		mu.Lock()
		fetched = append(fetched, from)
		mu.Unlock()
		return byChunk(from, to), nil
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	done2 := make(chan struct{})
	go func() {
		r.indexer.Run(ctx2)
		close(done2)
	}()

	waitFor(t, 2*time.Second, "resumed monitoring chunk", func() bool {
		return r.indexer.Status().LastCompletedChunk == 4
	})

	mu.Lock()
	for _, from := range fetched {
		if from <= 1099 {
			t.Errorf("re-fetched already validated blocks starting at %d", from)
		}
	}
	mu.Unlock()

	status := r.indexer.Status()
	if status.EndBlock != 1199 {
		t.Errorf("expected end block advanced to 1199, got %d", status.EndBlock)
	}

	var restored entities.Accumulator
	if err := json.Unmarshal(status.AccumulatorSnapshot, &restored); err != nil {
		t.Fatal(err)
	}
	if restored.EventCount != 1100 {
		t.Errorf("expected 1100 events with no double counting, got %d", restored.EventCount)
	}

	persisted, _ := r.repo.Stored(sessionID)
	if persisted.EndBlock != 1199 {
		t.Errorf("expected checkpoint at monitored head 1199, got %d", persisted.EndBlock)
	}

	r.indexer.Stop()
	waitFor(t, 2*time.Second, "stopped state", func() bool {
		return r.indexer.State() == entities.SessionStopped
	})
	cancel2()
	<-done2
}

func TestStreamingIndexer_ContinuousSyncMonitors(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.ProTier)

	var head atomic.Int64
	head.Store(999)
	f.client.BlockNumberFunc = func(ctx context.Context) (int64, error) {
		return head.Load(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.indexer.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, "monitoring state", func() bool {
		return f.indexer.State() == entities.SessionMonitoring
	})

	// New blocks appear; the monitor synthesizes a chunk for them.
	head.Store(1099)

	waitFor(t, 2*time.Second, "monitoring chunk", func() bool {
		return f.indexer.Status().LastCompletedChunk == 3
	})

	status := f.indexer.Status()
	if status.EndBlock != 1099 {
		t.Errorf("expected end block advanced to 1099, got %d", status.EndBlock)
	}
	if status.State != entities.SessionMonitoring {
		t.Errorf("expected still monitoring, got %s", status.State)
	}

	f.indexer.Stop()
	waitFor(t, 2*time.Second, "stopped state", func() bool {
		return f.indexer.State() == entities.SessionStopped
	})

	cancel()
	<-done
}

func TestStreamingIndexer_OneShotTierStops(t *testing.T) {
	f := newIndexerFixture(t, testutil.CreateTestSession(testutil.WithoutRange()), testutil.FreeTier)

	f.indexer.Run(context.Background())

	if state := f.indexer.State(); state != entities.SessionStopped {
		t.Errorf("expected one-shot tier to stop after historical range, got %s", state)
	}
}
