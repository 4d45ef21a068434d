// Package metrics registers the tracker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeEmpty        = "empty"
	OutcomePrecondition = "precondition"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
)

var (
	SyncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_sync_attempts_total",
		Help: "Sync invocations, labeled by outcome",
	}, []string{"outcome"})

	SyncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_sync_batch_size",
		Help:    "Transactions submitted per sync request",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_sync_duration_seconds",
		Help:    "Latency distribution of sync requests",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_queue_depth",
		Help: "Transactions waiting in the local queue",
	})

	StudentsCached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_students_cached",
		Help: "Student records in the local reference cache",
	})

	RefreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_refresh_attempts_total",
		Help: "Reference cache refreshes, labeled by outcome",
	}, []string{"outcome"})

	ShellRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_shell_requests_total",
		Help: "Shell server requests, labeled by kind and source",
	}, []string{"kind", "source"})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_online",
		Help: "1 when the remote is reachable",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
