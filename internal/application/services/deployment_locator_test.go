package services

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/infrastructure/explorer"
	"github.com/bimakw/stream-indexer/internal/infrastructure/rpc"
	"github.com/bimakw/stream-indexer/internal/testutil"
)

const testLookbackBlocks = 500_000

func locatorPool(t *testing.T, client *testutil.MockChainClient) *rpc.Pool {
	t.Helper()

	cfg := config.ChainsConfig{
		Endpoints:          config.URLMap{"ethereum": "http://a"},
		EndpointRPS:        1000,
		UnhealthyThreshold: 3,
	}
	factory := func(chain entities.Chain, url string, c config.ChainsConfig, l *zap.Logger) (rpc.ChainClient, error) {
		return client, nil
	}
	pool, err := rpc.NewPoolWithFactory(cfg, factory, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build pool: %v", err)
	}
	return pool
}

func setupLocatorTest(t *testing.T, explorerLookup ExplorerLookup) (*DeploymentLocator, *testutil.MockDeploymentRepository, *testutil.MockChainClient) {
	t.Helper()

	client := testutil.NewMockChainClient("ethereum")
	deployments := testutil.NewMockDeploymentRepository()
	locator := NewDeploymentLocator(
		locatorPool(t, client), explorerLookup, deployments, nil,
		testLookbackBlocks, zap.NewNop(),
	)
	return locator, deployments, client
}

func TestDeploymentLocator_BinarySearch(t *testing.T) {
	locator, deployments, client := setupLocatorTest(t, nil)

	const deployedAt = int64(1_000_000)
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return block >= deployedAt, nil
	}

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deployment.BlockNumber != deployedAt {
		t.Errorf("expected deployment block %d, got %d", deployedAt, deployment.BlockNumber)
	}
	if deployment.Approximate {
		t.Error("binary search result must be exact")
	}

	// The result is recorded for later sessions.
	stored, err := deployments.Get(context.Background(), testutil.USDTAddress, "ethereum")
	if err != nil || stored == nil {
		t.Fatalf("expected deployment recorded, got %v, %v", stored, err)
	}
	if stored.BlockNumber != deployedAt {
		t.Errorf("recorded block %d, want %d", stored.BlockNumber, deployedAt)
	}
}

func TestDeploymentLocator_ExplorerFastPath(t *testing.T) {
	mockExplorer := testutil.NewMockExplorer()
	mockExplorer.Block = 777_777

	locator, _, client := setupLocatorTest(t, mockExplorer)

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deployment.BlockNumber != 777_777 {
		t.Errorf("expected explorer block 777777, got %d", deployment.BlockNumber)
	}
	if client.CallCount("ContractExistsAt") != 0 {
		t.Error("explorer hit must not trigger binary search probes")
	}
}

func TestDeploymentLocator_ExplorerNotConfigured(t *testing.T) {
	mockExplorer := testutil.NewMockExplorer()
	mockExplorer.Err = explorer.ErrNotConfigured

	locator, _, client := setupLocatorTest(t, mockExplorer)
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return block >= 42, nil
	}

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deployment.BlockNumber != 42 {
		t.Errorf("expected fallback binary search to find 42, got %d", deployment.BlockNumber)
	}
}

func TestDeploymentLocator_NoFootprint(t *testing.T) {
	locator, deployments, client := setupLocatorTest(t, nil)
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return false, nil
	}

	_, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_500_000)
	if !errors.Is(err, ErrDeploymentUnknown) {
		t.Fatalf("expected ErrDeploymentUnknown, got %v", err)
	}

	// A definitive "no footprint" answer must not be recorded or estimated.
	stored, _ := deployments.Get(context.Background(), testutil.USDTAddress, "ethereum")
	if stored != nil {
		t.Error("expected no deployment record for unknown contract")
	}
}

func TestDeploymentLocator_LookbackEstimate(t *testing.T) {
	locator, _, client := setupLocatorTest(t, nil)
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return false, errors.New("rpc unavailable")
	}

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !deployment.Approximate {
		t.Error("expected lookback estimate to be approximate")
	}
	if deployment.BlockNumber != 1_500_000-testLookbackBlocks {
		t.Errorf("expected estimate %d, got %d", 1_500_000-testLookbackBlocks, deployment.BlockNumber)
	}
}

func TestDeploymentLocator_LookbackClampedToZero(t *testing.T) {
	locator, _, client := setupLocatorTest(t, nil)
	client.ContractExistsAtFunc = func(ctx context.Context, addr string, block int64) (bool, error) {
		return false, errors.New("rpc unavailable")
	}

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deployment.BlockNumber != 0 {
		t.Errorf("expected estimate clamped to 0, got %d", deployment.BlockNumber)
	}
}

func TestDeploymentLocator_UsesRecordedDeployment(t *testing.T) {
	locator, deployments, client := setupLocatorTest(t, nil)

	if err := deployments.Put(context.Background(), &entities.Deployment{
		ContractAddress: testutil.USDTAddress,
		Chain:           "ethereum",
		BlockNumber:     555,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	deployment, err := locator.Locate(context.Background(), testutil.USDTAddress, "ethereum", 1_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deployment.BlockNumber != 555 {
		t.Errorf("expected recorded block 555, got %d", deployment.BlockNumber)
	}
	if client.CallCount("ContractExistsAt") != 0 {
		t.Error("recorded deployment must not trigger probes")
	}
}
