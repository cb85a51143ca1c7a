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
			Namespace: "mxgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mxgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mxgate",
			Subsystem: "session",
			Name:      "instances",
			Help:      "Registered instances by connection state.",
		},
		[]string{"state"},
	)
	sessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mxgate",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled after a connection loss.",
		},
	)
	qrExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mxgate",
			Subsystem: "session",
			Name:      "qr_expirations_total",
			Help:      "Sessions torn down because their QR was never scanned.",
		},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mxgate",
			Subsystem: "session",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by handling outcome.",
		},
		[]string{"outcome"},
	)
	pollVotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mxgate",
			Subsystem: "poll",
			Name:      "votes_total",
			Help:      "Poll vote updates by resolution outcome.",
		},
		[]string{"resolved"},
	)
	backupOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mxgate",
			Subsystem: "backup",
			Name:      "operations_total",
			Help:      "Backup store operations by kind and outcome.",
		},
		[]string{"op", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsByState, sessionReconnects, qrExpirations,
			inboundMessages, pollVotes, backupOps,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// SetSessionsByState replaces the per-state instance gauge with a fresh
// count snapshot.
func SetSessionsByState(counts map[string]int) {
	RegisterMetrics()
	sessionsByState.Reset()
	for state, n := range counts {
		sessionsByState.WithLabelValues(state).Set(float64(n))
	}
}

func RecordReconnectScheduled() {
	RegisterMetrics()
	sessionReconnects.Inc()
}

func RecordQRExpiration() {
	RegisterMetrics()
	qrExpirations.Inc()
}

func RecordInboundMessage(outcome string) {
	RegisterMetrics()
	inboundMessages.WithLabelValues(outcome).Inc()
}

func RecordPollVote(resolved bool) {
	RegisterMetrics()
	pollVotes.WithLabelValues(strconv.FormatBool(resolved)).Inc()
}

func RecordBackupOp(op string, success bool) {
	RegisterMetrics()
	backupOps.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}
