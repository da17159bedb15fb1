package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matchctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "sessions_accepted_total",
			Help:      "Client connections admitted into the waiting pool.",
		},
		[]string{"node"},
	)
	acceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "accept_errors_total",
			Help:      "Failed accept attempts on the client listener.",
		},
		[]string{"node"},
	)
	pairsFormed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "pairs_total",
			Help:      "Pairs extracted from the waiting pool.",
		},
		[]string{"node"},
	)
	sessionsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "pruned_total",
			Help:      "Invalid sessions evicted from the waiting pool.",
		},
		[]string{"node"},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "send_failures_total",
			Help:      "Failed writes to client sessions.",
		},
		[]string{"node", "payload"},
	)
	queueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "matchctl",
			Subsystem: "rendezvous",
			Name:      "queue_size",
			Help:      "Linked entries in the waiting pool, including unpruned invalid ones.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsAccepted,
			acceptErrors,
			pairsFormed,
			sessionsPruned,
			sendFailures,
			queueSize,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionAccepted(node string) {
	RegisterMetrics()
	sessionsAccepted.WithLabelValues(node).Inc()
}

func RecordAcceptError(node string) {
	RegisterMetrics()
	acceptErrors.WithLabelValues(node).Inc()
}

func RecordPair(node string) {
	RegisterMetrics()
	pairsFormed.WithLabelValues(node).Inc()
}

func RecordPruned(node string, n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	sessionsPruned.WithLabelValues(node).Add(float64(n))
}

func RecordSendFailure(node, payload string) {
	RegisterMetrics()
	sendFailures.WithLabelValues(node, payload).Inc()
}

func SetQueueSize(node string, size int) {
	RegisterMetrics()
	queueSize.WithLabelValues(node).Set(float64(size))
}
