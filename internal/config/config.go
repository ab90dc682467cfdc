package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// URLMap maps a chain name to one or more URLs. Entries are separated by
// ",", the name and URLs by "=" because the URLs themselves contain ":",
// and multiple URLs by ";".
type URLMap map[string]string

// Decode implements envconfig.Decoder
func (m *URLMap) Decode(value string) error {
	out := make(map[string]string)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, urls, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid URL map entry %q, want chain=url", entry)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(urls)
	}
	*m = out
	return nil
}

// Config holds all configuration for the application
type Config struct {
	// Chain RPC configuration
	Chains ChainsConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// API server configuration
	API APIConfig

	// Indexing engine configuration
	Engine EngineConfig

	// Tier service configuration
	Billing BillingConfig

	// Block explorer configuration
	Explorer ExplorerConfig

	// Logging configuration
	Log LogConfig
}

// ChainsConfig holds per-chain RPC endpoint settings
type ChainsConfig struct {
	// Endpoints maps a chain name to its RPC URLs, separated by ";"
	Endpoints URLMap `envconfig:"CHAIN_RPC_ENDPOINTS" default:"ethereum=https://eth.llamarpc.com;https://rpc.ankr.com/eth,base=https://mainnet.base.org,starknet=https://starknet-mainnet.public.blastapi.io/rpc/v0_7"`

	RequestTimeout      time.Duration `envconfig:"CHAIN_REQUEST_TIMEOUT" default:"30s"`
	EndpointRPS         int           `envconfig:"CHAIN_ENDPOINT_RPS" default:"10"`
	HealthCheckInterval time.Duration `envconfig:"CHAIN_HEALTH_CHECK_INTERVAL" default:"60s"`
	HealthCheckTimeout  time.Duration `envconfig:"CHAIN_HEALTH_CHECK_TIMEOUT" default:"10s"`
	UnhealthyThreshold  int           `envconfig:"CHAIN_UNHEALTHY_THRESHOLD" default:"3"`
}

// EndpointURLs returns the configured RPC URLs for a chain
func (c *ChainsConfig) EndpointURLs(chain string) []string {
	raw, ok := c.Endpoints[chain]
	if !ok {
		return nil
	}

	var urls []string
	for _, u := range strings.Split(raw, ";") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ChainNames returns the names of all configured chains
func (c *ChainsConfig) ChainNames() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	return names
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"indexer"`
	Password        string        `envconfig:"DB_PASSWORD" default:"indexer"`
	Name            string        `envconfig:"DB_NAME" default:"stream_indexer"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
}

// EngineConfig holds indexing engine settings
type EngineConfig struct {
	ChunkSize                int64         `envconfig:"ENGINE_CHUNK_SIZE" default:"200000"`
	MaxChunkRetries          int           `envconfig:"ENGINE_MAX_CHUNK_RETRIES" default:"3"`
	RetryBaseDelay           time.Duration `envconfig:"ENGINE_RETRY_BASE_DELAY" default:"1s"`
	MonitorInterval          time.Duration `envconfig:"ENGINE_MONITOR_INTERVAL" default:"30s"`
	MaxConcurrentSessions    int           `envconfig:"ENGINE_MAX_CONCURRENT_SESSIONS" default:"8"`
	DeploymentLookbackBlocks int64         `envconfig:"ENGINE_DEPLOYMENT_LOOKBACK_BLOCKS" default:"500000"`
}

// BillingConfig holds tier service settings
type BillingConfig struct {
	ServiceURL     string        `envconfig:"BILLING_SERVICE_URL" default:"http://localhost:8090"`
	RequestTimeout time.Duration `envconfig:"BILLING_REQUEST_TIMEOUT" default:"10s"`
	CacheTTL       time.Duration `envconfig:"BILLING_CACHE_TTL" default:"5m"`
}

// ExplorerConfig holds block explorer lookup settings.
// Chains without an explorer entry fall back to binary search.
type ExplorerConfig struct {
	URLs           URLMap        `envconfig:"EXPLORER_API_URLS" default:""`
	APIKey         string        `envconfig:"EXPLORER_API_KEY" default:""`
	RequestTimeout time.Duration `envconfig:"EXPLORER_REQUEST_TIMEOUT" default:"10s"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
