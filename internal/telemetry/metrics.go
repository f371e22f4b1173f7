package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bifrost_api_request_duration_seconds",
		Help:    "API request latency by method, route pattern, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_api_requests_total",
		Help: "API requests by method, route pattern, and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bifrost_api_active_connections",
		Help: "HTTP requests currently in flight.",
	})

	WSSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bifrost_ws_sessions_active",
		Help: "Open state-stream websocket sessions.",
	})
)

// Playback engine.
var (
	PlaybackStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_playback_starts_total",
		Help: "Tracks started, by backend.",
	}, []string{"source"})

	PlaybackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_playback_errors_total",
		Help: "Playback failures, by backend.",
	}, []string{"source"})

	PlaybackAutoAdvanceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_playback_auto_advance_total",
		Help: "Automatic queue advances, by trigger.",
	}, []string{"reason"})

	GaplessSwapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bifrost_playback_gapless_swaps_total",
		Help: "End-of-track transitions served from a warmed handle.",
	})

	DuckEnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_playback_duck_envelopes_total",
		Help: "Ducking fade envelopes run, by phase.",
	}, []string{"phase"})

	SyncMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_sync_messages_total",
		Help: "Cross-session sync messages, by direction.",
	}, []string{"direction"})
)

// Database.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bifrost_database_query_duration_seconds",
		Help:    "GORM operation latency by operation and table.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bifrost_database_errors_total",
		Help: "Database errors by operation and type.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bifrost_database_connections_active",
		Help: "Open connections in the pool.",
	})
)

// Library.
var (
	LibraryScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bifrost_library_scan_duration_seconds",
		Help:    "Full library scan duration.",
		Buckets: []float64{1, 5, 15, 60, 300, 900},
	})

	LibraryTracksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bifrost_library_tracks",
		Help: "Tracks currently indexed in the library.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
