package entities

import (
	"time"
)

// Endpoint represents the health state of a single RPC endpoint.
// Endpoints are owned by the pool for their chain; they are marked
// unhealthy/healthy, never removed.
type Endpoint struct {
	Chain               string    `json:"chain"`
	URL                 string    `json:"url"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LatencyMs           int64     `json:"latency_ms"`
	LastError           string    `json:"last_error,omitempty"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastFailedAt        time.Time `json:"last_failed_at"`
}
