// Package metrics exposes the orchestrators' observability counters in
// Prometheus text exposition format, served at /metrics by internal/api.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DiscoveryTokensSeen counts trending tokens processed across all cycles.
	DiscoveryTokensSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_pnl_discovery_tokens_seen_total",
		Help: "Trending tokens processed by the discovery orchestrator.",
	})

	// DiscoveryPairsPushed counts wallet/token pairs enqueued for analysis.
	DiscoveryPairsPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_pnl_discovery_pairs_pushed_total",
		Help: "Wallet/token pairs pushed onto the analysis queue.",
	})

	// DiscoveryCyclesCompleted counts full discovery cycles.
	DiscoveryCyclesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_pnl_discovery_cycles_completed_total",
		Help: "Discovery cycles completed.",
	})

	// DiscoveryTokenFetchFailures counts aborted cycles due to a failed
	// trending-tokens fetch.
	DiscoveryTokenFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_pnl_discovery_token_fetch_failures_total",
		Help: "Discovery cycles aborted by a failed trending-tokens fetch.",
	})

	// AnalysisItemsProcessed counts leased items run through the pipeline,
	// labeled by outcome (completed|abandoned).
	AnalysisItemsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_pnl_analysis_items_processed_total",
		Help: "Analysis queue items processed, by outcome.",
	}, []string{"outcome"})

	// AnalysisQueueEmptyBackoffs counts empty-queue back-off sleeps across
	// all workers.
	AnalysisQueueEmptyBackoffs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_pnl_analysis_empty_queue_backoffs_total",
		Help: "Empty-queue back-off sleeps observed by analysis workers.",
	})

	// AnalysisQueueDepth is a point-in-time gauge, refreshed whenever
	// internal/api's /api/queue/stats handler reads the queue depth.
	AnalysisQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_pnl_analysis_queue_depth",
		Help: "Current depth of the analysis queue.",
	})
)

func init() {
	prometheus.MustRegister(
		DiscoveryTokensSeen,
		DiscoveryPairsPushed,
		DiscoveryCyclesCompleted,
		DiscoveryTokenFetchFailures,
		AnalysisItemsProcessed,
		AnalysisQueueEmptyBackoffs,
		AnalysisQueueDepth,
	)
}
