package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the merge pipeline and upstream traffic,
// exported on /metrics.
var (
	MergeRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fpchat_merge_records_total",
		Help: "Records seen by the timeline merger, by outcome.",
	}, []string{"outcome"}) // appended, dedup_id, dedup_key, superseded, dropped_log, hidden

	HistoryFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fpchat_history_fetch_seconds",
		Help:    "Latency of upstream history page fetches.",
		Buckets: prometheus.DefBuckets,
	})

	LiveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fpchat_live_events_total",
		Help: "Realtime events consumed, by envelope type.",
	}, []string{"type"})

	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fpchat_sends_total",
		Help: "Outgoing sends, by result.",
	}, []string{"result"}) // ok, failed, in_flight

	CacheDiskBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fpchat_cache_disk_bytes",
		Help: "Disk space used by the pebble timeline cache.",
	})

	RetentionSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fpchat_retention_sweeps_total",
		Help: "Cache retention sweep runs, by result.",
	}, []string{"result"})

	RetentionEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fpchat_retention_evicted_conversations_total",
		Help: "Conversations evicted from the cache by retention.",
	})
)
