package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_sessions_active",
			Help: "Number of sessions currently indexing or monitoring",
		},
	)

	sessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_sessions_started_total",
			Help: "Total indexing sessions started",
		},
	)

	sessionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_session_errors_total",
			Help: "Total sessions that ended in an error state",
		},
		[]string{"reason"},
	)

	chunksValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_chunks_validated_total",
			Help: "Total chunks fetched and validated",
		},
		[]string{"chain"},
	)

	chunkRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_chunk_retries_total",
			Help: "Total chunk fetch or validation retries",
		},
		[]string{"chain"},
	)

	chunkFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_chunk_fetch_duration_seconds",
			Help:    "Duration of chunk fetches including retries",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"chain"},
	)
)
