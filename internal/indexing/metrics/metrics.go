package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsFetched tracks items yielded by the fetcher per source
	ItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_items_fetched_total",
			Help: "Total number of items fetched from upstream",
		},
		[]string{"source"},
	)

	// PagesFetched tracks listing pages requested per source
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_pages_fetched_total",
			Help: "Total number of listing pages fetched",
		},
		[]string{"source"},
	)

	// ItemsFiltered tracks items rejected by the keyword gate
	ItemsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_items_filtered_total",
			Help: "Total number of items rejected by the keyword filter",
		},
		[]string{"source"},
	)

	// ItemsAnalyzed tracks analysis results per provider
	ItemsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_items_analyzed_total",
			Help: "Total number of items analyzed",
		},
		[]string{"source", "provider", "degraded"},
	)

	// AnalysisFailures tracks items that got a terminal failure result
	AnalysisFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_analysis_failures_total",
			Help: "Total number of items no provider could analyze",
		},
		[]string{"source"},
	)

	// UpstreamRequests tracks upstream HTTP calls by endpoint and outcome
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"endpoint", "outcome"},
	)

	// RetriesTotal tracks retry attempts per operation
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"op"},
	)

	// ProviderCalls tracks LLM calls per provider and outcome
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_provider_calls_total",
			Help: "Total number of analysis provider calls",
		},
		[]string{"provider", "mode", "outcome"},
	)

	// ProviderLatency tracks LLM call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupwatch_provider_latency_seconds",
			Help:    "Analysis provider call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)

	// CursorTimestamp tracks the committed cursor position per source
	CursorTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "groupwatch_cursor_timestamp_seconds",
			Help: "Unix timestamp of the last committed item",
		},
		[]string{"source"},
	)

	// PipelineRuns tracks finished runs per source and outcome
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"source", "outcome"},
	)

	// PipelineRunDuration tracks wall time per run
	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groupwatch_pipeline_run_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"source"},
	)

	// SinkErrors tracks report sink failures
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_sink_errors_total",
			Help: "Total number of report sink failures",
		},
		[]string{"sink"},
	)

	// NotificationsSent tracks operator notifications by outcome
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupwatch_notifications_total",
			Help: "Total number of operator notifications",
		},
		[]string{"kind", "outcome"},
	)

	// WatchInterval is the delay before the next watch pass
	WatchInterval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupwatch_watch_interval_seconds",
			Help: "Delay before the next watch pass",
		},
	)

	// DBConnectionPoolUsage tracks connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groupwatch_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
