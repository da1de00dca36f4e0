// Package metrics provides Prometheus instrumentation for the risk core.
package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskintel"

var (
	// AnalyticsDuration observes analytics request latency by operation.
	AnalyticsDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_duration_seconds",
			Help:      "Analytics request duration in seconds by operation.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// OmittedMetricsTotal counts metrics and algorithms left out of a result.
	OmittedMetricsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "omitted_metrics_total",
			Help:      "Metrics, algorithms or factors omitted from a result, by name.",
		},
		[]string{"name"},
	)

	// ScoringPassesTotal counts scoring passes by outcome.
	ScoringPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_passes_total",
			Help:      "Scoring passes by outcome (scored, unknown, conflict, error).",
		},
		[]string{"outcome"},
	)

	// RiskScores observes computed scores.
	RiskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   []float64{10, 25, 40, 50, 60, 75, 90, 100},
	})

	// AlertsTotal counts raised alerts by type, severity and action.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts created or updated by type, severity and action.",
		},
		[]string{"type", "severity", "action"},
	)

	// NotificationFailuresTotal counts failed alert deliveries by sink.
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Failed alert notifications by sink.",
		},
		[]string{"sink"},
	)

	// StoreRetriesTotal counts retried entity store operations.
	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Entity store operation retries by operation.",
		},
		[]string{"operation"},
	)

	// IngestedTransactionsTotal counts transactions taken from the stream.
	IngestedTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_transactions_total",
			Help:      "Transactions ingested by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected alert subscribers.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket alert subscribers.",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		AnalyticsDuration,
		OmittedMetricsTotal,
		ScoringPassesTotal,
		RiskScores,
		AlertsTotal,
		NotificationFailuresTotal,
		StoreRetriesTotal,
		IngestedTransactionsTotal,
		ActiveWebSocketClients,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// RecordOmitted counts every entry of an omitted map
func RecordOmitted(omitted map[string]string) {
	for name := range omitted {
		OmittedMetricsTotal.WithLabelValues(name).Inc()
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps label cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
