// Package metrics exposes the process-wide Prometheus collectors. Served
// on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "torrent_streamer_active_streams",
		Help: "Number of HTTP range requests currently being served.",
	})

	StreamedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torrent_streamer_streamed_bytes_total",
		Help: "Total bytes written to stream responses.",
	})

	WaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torrent_streamer_wait_timeouts_total",
		Help: "Range requests that proceeded degraded after the piece readiness timeout.",
	})

	CacheResidentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "torrent_streamer_cache_resident_bytes",
		Help: "Bytes currently resident across all piece caches.",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torrent_streamer_cache_evictions_total",
		Help: "Chunks evicted from the piece caches under memory pressure.",
	})
)
