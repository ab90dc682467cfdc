package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// healthCheckConcurrency bounds parallel endpoint probes per sweep
const healthCheckConcurrency = 4

// Pool owns every configured endpoint and its health state. Health is
// chain-isolated: a failure on one chain never affects another chain's
// rotation. The pool never blocks waiting for a healthy endpoint; when a
// whole chain is down it degrades to the least-recently-failed endpoint
// and lets callers retry.
type Pool struct {
	chains map[string]*chainPool
	cfg    config.ChainsConfig
	logger *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// chainPool is the per-chain endpoint set plus rotation cursor
type chainPool struct {
	chain entities.Chain

	mu        sync.Mutex
	endpoints []*pooledEndpoint
	cursor    int
}

type pooledEndpoint struct {
	info    entities.Endpoint
	client  ChainClient
	limiter *rate.Limiter
}

// NewPool builds clients for every configured chain using the default
// client factory
func NewPool(cfg config.ChainsConfig, logger *zap.Logger) (*Pool, error) {
	return NewPoolWithFactory(cfg, DefaultClientFactory, logger)
}

// NewPoolWithFactory builds a pool with a custom client factory
func NewPoolWithFactory(cfg config.ChainsConfig, factory ClientFactory, logger *zap.Logger) (*Pool, error) {
	p := &Pool{
		chains: make(map[string]*chainPool),
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	for _, name := range cfg.ChainNames() {
		chain, ok := entities.ChainByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown chain %q in endpoint configuration", name)
		}

		urls := cfg.EndpointURLs(name)
		if len(urls) == 0 {
			return nil, fmt.Errorf("no RPC endpoints configured for chain %s", name)
		}

		cp := &chainPool{chain: chain}
		for _, url := range urls {
			client, err := factory(chain, url, cfg, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to build client for %s: %w", url, err)
			}

			limiter := rate.NewLimiter(rate.Limit(cfg.EndpointRPS), cfg.EndpointRPS)
			cp.endpoints = append(cp.endpoints, &pooledEndpoint{
				info: entities.Endpoint{
					Chain:   name,
					URL:     url,
					Healthy: true,
				},
				client:  &limitedClient{inner: client, limiter: limiter},
				limiter: limiter,
			})
		}

		p.chains[name] = cp
		poolHealthyEndpoints.WithLabelValues(name).Set(float64(len(cp.endpoints)))
	}

	return p, nil
}

// Acquire returns a client for the chain, selected round-robin among
// healthy endpoints. When every endpoint is unhealthy the least-recently
// failed one is returned so callers can still make progress attempts.
func (p *Pool) Acquire(chain string) (ChainClient, entities.Endpoint, error) {
	cp, ok := p.chains[chain]
	if !ok {
		return nil, entities.Endpoint{}, fmt.Errorf("no endpoint pool for chain %s", chain)
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	n := len(cp.endpoints)
	for i := 0; i < n; i++ {
		ep := cp.endpoints[(cp.cursor+i)%n]
		if ep.info.Healthy {
			cp.cursor = (cp.cursor + i + 1) % n
			return ep.client, ep.info, nil
		}
	}

	// Whole chain unhealthy: degrade, never block.
	oldest := cp.endpoints[0]
	for _, ep := range cp.endpoints[1:] {
		if ep.info.LastFailedAt.Before(oldest.info.LastFailedAt) {
			oldest = ep
		}
	}
	return oldest.client, oldest.info, nil
}

// ReportSuccess records a successful call against an endpoint, closing
// its circuit if it was open
func (p *Pool) ReportSuccess(chain, url string, latency time.Duration) {
	cp, ok := p.chains[chain]
	if !ok {
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	ep := cp.find(url)
	if ep == nil {
		return
	}

	wasUnhealthy := !ep.info.Healthy
	ep.info.Healthy = true
	ep.info.ConsecutiveFailures = 0
	ep.info.LatencyMs = latency.Milliseconds()
	ep.info.LastError = ""
	ep.info.LastCheckedAt = time.Now()

	if wasUnhealthy {
		p.logger.Info("Endpoint recovered",
			zap.String("chain", chain),
			zap.String("endpoint", url),
		)
		poolHealthyEndpoints.WithLabelValues(chain).Set(float64(cp.healthyCount()))
	}
}

// ReportFailure records a failed call against an endpoint, opening its
// circuit once the failure threshold is reached
func (p *Pool) ReportFailure(chain, url string, callErr error) {
	cp, ok := p.chains[chain]
	if !ok {
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	ep := cp.find(url)
	if ep == nil {
		return
	}

	ep.info.ConsecutiveFailures++
	ep.info.LastFailedAt = time.Now()
	ep.info.LastCheckedAt = ep.info.LastFailedAt
	if callErr != nil {
		ep.info.LastError = callErr.Error()
	}
	poolEndpointFailures.WithLabelValues(chain, url).Inc()

	if ep.info.Healthy && ep.info.ConsecutiveFailures >= p.cfg.UnhealthyThreshold {
		ep.info.Healthy = false
		p.logger.Warn("Endpoint marked unhealthy",
			zap.String("chain", chain),
			zap.String("endpoint", url),
			zap.Int("consecutive_failures", ep.info.ConsecutiveFailures),
			zap.String("last_error", ep.info.LastError),
		)
		poolHealthyEndpoints.WithLabelValues(chain).Set(float64(cp.healthyCount()))
	}
}

// Endpoints returns a snapshot of the endpoint states for a chain
func (p *Pool) Endpoints(chain string) []entities.Endpoint {
	cp, ok := p.chains[chain]
	if !ok {
		return nil
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	out := make([]entities.Endpoint, 0, len(cp.endpoints))
	for _, ep := range cp.endpoints {
		out = append(out, ep.info)
	}
	return out
}

// Chains returns the chain names the pool serves
func (p *Pool) Chains() []string {
	names := make([]string, 0, len(p.chains))
	for name := range p.chains {
		names = append(names, name)
	}
	return names
}

// HealthCheck reports an error when any chain has no healthy endpoint
func (p *Pool) HealthCheck(ctx context.Context) error {
	for name, cp := range p.chains {
		cp.mu.Lock()
		healthy := cp.healthyCount()
		cp.mu.Unlock()
		if healthy == 0 {
			return fmt.Errorf("chain %s has no healthy endpoints", name)
		}
	}
	return nil
}

// Start launches the periodic health check loop
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.runHealthCheckLoop()
}

// Stop stops the health check loop and closes all clients
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	for _, cp := range p.chains {
		for _, ep := range cp.endpoints {
			ep.client.Close()
		}
	}
}

func (p *Pool) runHealthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RunHealthCheck(context.Background())
		}
	}
}

// RunHealthCheck probes every endpoint once with a minimal call and
// updates health state from the outcome
func (p *Pool) RunHealthCheck(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckConcurrency)

	for name, cp := range p.chains {
		name := name
		cp.mu.Lock()
		endpoints := make([]*pooledEndpoint, len(cp.endpoints))
		copy(endpoints, cp.endpoints)
		cp.mu.Unlock()

		for _, ep := range endpoints {
			ep := ep
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
				defer cancel()

				start := time.Now()
				_, err := ep.client.BlockNumber(probeCtx)
				if err != nil {
					p.ReportFailure(name, ep.info.URL, err)
					return nil
				}
				p.ReportSuccess(name, ep.info.URL, time.Since(start))
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (cp *chainPool) find(url string) *pooledEndpoint {
	for _, ep := range cp.endpoints {
		if ep.info.URL == url {
			return ep
		}
	}
	return nil
}

func (cp *chainPool) healthyCount() int {
	count := 0
	for _, ep := range cp.endpoints {
		if ep.info.Healthy {
			count++
		}
	}
	return count
}

// limitedClient gates every call on the endpoint's rate limiter so
// concurrent sessions share one request budget per endpoint
type limitedClient struct {
	inner   ChainClient
	limiter *rate.Limiter
}

var _ ChainClient = (*limitedClient)(nil)

func (c *limitedClient) Chain() string {
	return c.inner.Chain()
}

func (c *limitedClient) BlockNumber(ctx context.Context) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.BlockNumber(ctx)
}

func (c *limitedClient) FetchActivity(ctx context.Context, contractAddress string, fromBlock, toBlock int64) ([]entities.ActivityRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.FetchActivity(ctx, contractAddress, fromBlock, toBlock)
}

func (c *limitedClient) ContractExistsAt(ctx context.Context, contractAddress string, block int64) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return c.inner.ContractExistsAt(ctx, contractAddress, block)
}

func (c *limitedClient) Close() {
	c.inner.Close()
}
