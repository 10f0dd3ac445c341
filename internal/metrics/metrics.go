// Package metrics exposes Prometheus counters for the playback engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no identities or session ids.
var (
	// StreamFaultsTotal counts faults reported to the resilience controller.
	StreamFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplay_stream_faults_total",
		Help: "Total number of stream faults, by kind (network, media, stall, fatal).",
	}, []string{"kind"})

	// StreamRecoveriesTotal counts in-place recovery actions.
	StreamRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplay_stream_recoveries_total",
		Help: "Total number of in-place recovery actions, by action (resume_loading, recover_media, heal).",
	}, []string{"action"})

	// PipelineRebuildsTotal counts full pipeline rebuilds.
	PipelineRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedplay_pipeline_rebuilds_total",
		Help: "Total number of live pipeline rebuilds.",
	})

	// StreamFailuresTotal counts attachments that gave up recovering.
	StreamFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedplay_stream_failures_total",
		Help: "Total number of attachments that exhausted automatic recovery.",
	})

	// FeedRefreshesTotal counts silent refreshes by push reason.
	FeedRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplay_feed_refreshes_total",
		Help: "Total number of silent feed refreshes, by reason.",
	}, []string{"reason"})

	// RecordFlushesTotal counts record store flushes by result.
	RecordFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplay_record_flushes_total",
		Help: "Total number of record store flushes, by result (ok, error).",
	}, []string{"result"})

	// RecordEvictionsTotal counts records evicted over capacity.
	RecordEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedplay_record_evictions_total",
		Help: "Total number of playback records evicted over capacity.",
	})

	// PrefetchesTotal counts next-item prefetches by result.
	PrefetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedplay_prefetches_total",
		Help: "Total number of next-item prefetches, by result (ok, error, limited, stale, gated).",
	}, []string{"result"})
)

// RecordStreamFault increments the fault counter for the given kind.
func RecordStreamFault(kind string) {
	StreamFaultsTotal.WithLabelValues(kind).Inc()
}

// RecordRecovery increments the recovery counter for the given action.
func RecordRecovery(action string) {
	StreamRecoveriesTotal.WithLabelValues(action).Inc()
}

// RecordRebuild increments the pipeline rebuild counter.
func RecordRebuild() {
	PipelineRebuildsTotal.Inc()
}

// RecordStreamFailure increments the terminal failure counter.
func RecordStreamFailure() {
	StreamFailuresTotal.Inc()
}

// RecordFeedRefresh increments the refresh counter for reason.
func RecordFeedRefresh(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	FeedRefreshesTotal.WithLabelValues(reason).Inc()
}

// RecordFlush increments the flush counter; err selects the result label.
func RecordFlush(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RecordFlushesTotal.WithLabelValues(result).Inc()
}

// RecordEvictions adds n evictions.
func RecordEvictions(n int) {
	if n > 0 {
		RecordEvictionsTotal.Add(float64(n))
	}
}

// RecordPrefetch increments the prefetch counter for result.
func RecordPrefetch(result string) {
	PrefetchesTotal.WithLabelValues(result).Inc()
}
