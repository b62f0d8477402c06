// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts Congress.gov requests by status code ("error" for
	// transport failures).
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "congress_api_requests_total",
		Help: "Total Congress.gov API requests by status code",
	}, []string{"code"})

	// APIRequestDuration tracks request latency.
	APIRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "congress_api_request_duration_seconds",
		Help:    "Congress.gov API request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	// RateLimited counts 429 responses.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "congress_rate_limited_total",
		Help: "Total responses rejected by the Congress.gov rate limit",
	})

	// FetchRetries counts fetch retries by entity type.
	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "congress_fetch_retries_total",
		Help: "Total fetch retries by entity type",
	}, []string{"entity"})

	// RecordsProcessed counts records by entity type and outcome
	// (created, updated, failed).
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "congress_records_processed_total",
		Help: "Total records processed by entity type and outcome",
	}, []string{"entity", "outcome"})

	// SyncRuns counts finished runs.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "congress_sync_runs_total",
		Help: "Total sync runs by entity type, mode and final status",
	}, []string{"entity", "mode", "status"})

	// SyncRunDuration tracks run wall time.
	SyncRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "congress_sync_run_duration_seconds",
		Help:    "Sync run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
	}, []string{"entity", "mode"})
)
