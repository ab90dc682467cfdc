package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/config"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
	"github.com/bimakw/stream-indexer/internal/domain/repositories"
	"github.com/bimakw/stream-indexer/internal/infrastructure/cache"
)

// Ensure Client implements TierLookup
var _ repositories.TierLookup = (*Client)(nil)

// Client reads subscription tiers from the billing service. Results are
// cached in Redis with a TTL so repeated session starts do not hammer the
// service; the cache is optional and lookups degrade to direct calls.
type Client struct {
	client *retryablehttp.Client
	cfg    config.BillingConfig
	cache  *cache.RedisCache
	logger *zap.Logger
}

// NewClient creates a tier lookup client
func NewClient(cfg config.BillingConfig, redisCache *cache.RedisCache, logger *zap.Logger) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = cfg.RequestTimeout

	return &Client{
		client: client,
		cfg:    cfg,
		cache:  redisCache,
		logger: logger,
	}
}

// GetTier retrieves the tier for a user
func (c *Client) GetTier(ctx context.Context, userID string) (*entities.Tier, error) {
	cacheKey := "tier:" + userID

	if c.cache != nil {
		var cached entities.Tier
		err := c.cache.Get(ctx, cacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Tier cache read failed", zap.Error(err))
		}
	}

	url := fmt.Sprintf("%s/api/v1/users/%s/tier", c.cfg.ServiceURL, userID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tier request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tier lookup failed for user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tier service returned status %d for user %s", resp.StatusCode, userID)
	}

	var tier entities.Tier
	if err := json.NewDecoder(resp.Body).Decode(&tier); err != nil {
		return nil, fmt.Errorf("failed to decode tier response: %w", err)
	}
	if tier.Name == "" {
		return nil, fmt.Errorf("tier service returned empty tier for user %s", userID)
	}

	if c.cache != nil {
		if err := c.cache.SetWithTTL(ctx, cacheKey, tier, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("Tier cache write failed", zap.Error(err))
		}
	}

	return &tier, nil
}
