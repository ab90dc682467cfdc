package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHealthyEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpc_pool_healthy_endpoints",
			Help: "Number of healthy RPC endpoints per chain",
		},
		[]string{"chain"},
	)

	poolEndpointFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_pool_endpoint_failures_total",
			Help: "Total reported RPC call failures per endpoint",
		},
		[]string{"chain", "endpoint"},
	)
)
